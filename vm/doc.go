// Package vm implements the Garnet virtual machine.
//
// This package contains:
//   - Tagged value representation and heap object layout
//   - Classes, modules, refinements and method resolution
//   - Inline call caches with per-site handler selection
//   - Argument binding for positional, optional, rest and keyword parameters
//   - Blocks, procs and non-local control flow
//   - The bytecode interpreter and its assembler
//   - Primitive class implementations
package vm
