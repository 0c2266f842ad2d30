package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blackwell-systems/hytalectl/internal/ops"
)

// stdin is read by confirm; tests replace it.
var stdin io.Reader = os.Stdin

// confirm asks a yes/no question on stdout and reads the answer.
func confirm(w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	response, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// signalContext is cancelled on SIGINT or SIGTERM. Operations honour the
// cancellation only until they stop the server.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain adds operator guidance to lifecycle errors.
func explain(err error) error {
	switch {
	case errors.Is(err, ops.ErrBusy):
		return fmt.Errorf("%w\n\nAnother hytalectl operation is running. Check 'hytalectl status' and retry when it finishes", err)
	case ops.WasMutated(err):
		return fmt.Errorf("%w\n\nThe installation was changed before the failure. Review 'hytalectl history' and 'hytalectl backup list'", err)
	case ops.IsSafeToRetry(err):
		return fmt.Errorf("%w\n\nNothing was changed; it is safe to retry", err)
	}
	return err
}
