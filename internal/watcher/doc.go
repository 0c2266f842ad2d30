// Package watcher runs an armed update as soon as a new backup lands.
//
// An operator arms "update after next backup" (hytalectl auto-update on);
// the flag records how many archives existed at that moment. The Watcher
// watches the backup root with fsnotify and, once a new archive appears,
// asks the lifecycle controller to run the update. A periodic rescan
// covers events fsnotify can miss (network filesystems, overflowed queues).
//
// Key features:
//   - fsnotify on the backup root, debounced so the .partial -> final rename
//     of one archive triggers a single check
//   - Daemon mode with PID file management
//   - Graceful shutdown on SIGTERM/SIGINT
//
// Example usage:
//
//	w, err := watcher.New(cfg.BackupRoot(), ctrl)
//	if err != nil {
//		return err
//	}
//	if err := w.Start(); err != nil {
//		return err
//	}
//	defer w.Stop()
package watcher
