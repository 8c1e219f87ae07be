package vm

import "strings"

// CallFlag describes how a call site passes its arguments.
type CallFlag uint16

const (
	FlagArgsSplat CallFlag = 1 << iota // last positional argument is splatted
	FlagBlockArg                       // &blk passed after the arguments
	FlagFCall                          // receiver is implicit self; private allowed
	FlagVCall                          // bare identifier, may be a local
	FlagKwArg                          // trailing arguments are literal keywords
	FlagKwSplat                        // last argument is a **hash
	FlagTailCall                       // callee may replace the caller frame
	FlagSuper                          // super call
	FlagOptSend                        // synthesized by send
)

var callFlagNames = []struct {
	flag CallFlag
	name string
}{
	{FlagArgsSplat, "ARGS_SPLAT"},
	{FlagBlockArg, "ARGS_BLOCKARG"},
	{FlagFCall, "FCALL"},
	{FlagVCall, "VCALL"},
	{FlagKwArg, "KWARG"},
	{FlagKwSplat, "KW_SPLAT"},
	{FlagTailCall, "TAILCALL"},
	{FlagSuper, "SUPER"},
	{FlagOptSend, "OPT_SEND"},
}

func (f CallFlag) String() string {
	if f == 0 {
		return ""
	}
	var parts []string
	for _, fn := range callFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// CallInfo is the immutable descriptor of a call site.
//
// Argc counts every value the site pushes after the receiver, including
// the splatted array, literal keyword values and the **hash, but not the
// block argument.
type CallInfo struct {
	Mid    Symbol
	Argc   int
	Flags  CallFlag
	KwArgs []Symbol
}

// NewCallInfo creates a call descriptor.
func NewCallInfo(mid Symbol, argc int, flags CallFlag, kwargs ...Symbol) *CallInfo {
	if len(kwargs) > 0 {
		flags |= FlagKwArg
	}
	return &CallInfo{Mid: mid, Argc: argc, Flags: flags, KwArgs: kwargs}
}

// Simple reports whether the site passes plain positional arguments only.
func (ci *CallInfo) Simple() bool {
	return ci.Flags&(FlagArgsSplat|FlagBlockArg|FlagKwArg|FlagKwSplat) == 0
}
