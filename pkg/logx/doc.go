// Package logx is a thin structured logging layer over zerolog.
//
// It exists so engine packages can log without depending on zerolog types
// directly, and so sinks (console, JSON file) can be swapped at runtime via
// Service.Apply without re-plumbing loggers through the whole tree.
package logx
