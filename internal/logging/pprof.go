package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof"
)

const pprofAddr = "localhost:6060"

// startPprof serves the pprof handlers on localhost when the config asks
// for them. The listener failing is logged, never fatal.
func startPprof() {
	go func() {
		Logger().Info("pprof_listening", slog.String("addr", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			Logger().Error("pprof_failed", slog.String("error", err.Error()))
		}
	}()
}
