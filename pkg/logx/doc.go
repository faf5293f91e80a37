// Package logx configures slotq's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The zero-value Logger safe to use everywhere (no-op)
package logx
