// Package log holds slog attribute helpers shared by the engine.
package log

import "log/slog"

func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

func Node(name string) slog.Attr {
	return slog.String("node", name)
}

func Event(kind string) slog.Attr {
	return slog.String("event", kind)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
