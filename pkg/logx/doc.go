// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a Logger (usually derived with With(logx.String("comp", ...)))
// and never touch zerolog directly. The Service owns the sinks (console and/or
// file) and can swap them at runtime via Apply(), so a config hot-reload can
// change log level or enable file logging without restarting the process.
package logx
