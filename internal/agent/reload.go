package agent

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debugPollInterval is the periodic fallback for platforms that don't
// deliver reliable fsnotify events, matching the Python source's
// _epsagon_conf_watcher loop.
const debugPollInterval = 120 * time.Second

// WatchDebugFlag reloads the logger's level whenever confDir's debug flag
// file changes, combining an fsnotify watch with the periodic poll fallback
// the corpus uses for its own config-reload watcher (the same dual
// mechanism as agentkube's kubeconfig file watcher). reload additionally
// fires an immediate reload, used to wire SIGHUP.
func WatchDebugFlag(ctx context.Context, confDir string, envDebug bool, logger *logrus.Logger, reload <-chan os.Signal) {
	apply := func() {
		logger.SetLevel(levelFor(ReadDebugFlag(confDir, envDebug)))
	}
	apply()

	var events chan fsnotify.Event
	var errs chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Debug("fsnotify unavailable, relying on the poll fallback")
	} else {
		defer watcher.Close()
		if watchErr := watcher.Add(confDir); watchErr != nil {
			logger.WithError(watchErr).Debug("fsnotify watch on conf dir failed, relying on the poll fallback")
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(debugPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			apply()
		case <-ticker.C:
			apply()
		case ev := <-events:
			if filepath.Base(ev.Name) == "epsagon_debug" {
				apply()
			}
		case <-errs:
			// Watch errors don't interrupt reload; the poll fallback covers us.
		}
	}
}
