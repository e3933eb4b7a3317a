package result

import (
	"errors"
	"fmt"
)

// Code is a 32 bit status word as exchanged with the kernel and with clients.
// Zero and positive values indicate success, negative values (bit 31 set) are failures.
type Code uint32

// Level describes how severe a failure is
type Level uint32

const (
	LevelSuccess      Level = 0
	LevelInfo         Level = 1
	LevelStatus       Level = 0x19
	LevelTemporary    Level = 0x1A
	LevelPermanent    Level = 0x1B
	LevelUsage        Level = 0x1C
	LevelReinitialize Level = 0x1D
	LevelReset        Level = 0x1E
	LevelFatal        Level = 0x1F
)

// Summary is the rough category of a failure
type Summary uint32

const (
	SummarySuccess       Summary = 0
	SummaryNop           Summary = 1
	SummaryWouldBlock    Summary = 2
	SummaryOutOfResource Summary = 3
	SummaryNotFound      Summary = 4
	SummaryInvalidState  Summary = 5
	SummaryNotSupported  Summary = 6
	SummaryInvalidArg    Summary = 7
	SummaryWrongArg      Summary = 8
	SummaryCanceled      Summary = 9
	SummaryStatusChanged Summary = 10
	SummaryInternal      Summary = 11
)

// Module identifies the component that produced the code
type Module uint32

const (
	ModuleCommon Module = 0
	ModuleKernel Module = 1
	ModuleOS     Module = 6
	ModuleGPIO   Module = 12
)

// Description is the detailed reason of a failure
type Description uint32

const (
	DescriptionSuccess       Description = 0
	DescriptionNotAuthorized Description = 0x3EA
	DescriptionBusy          Description = 0x3F0
	DescriptionNotFound      Description = 0x3FA
	DescriptionOutOfRange    Description = 0x3FD
)

// MakeResult packs the four fields into a Code
func MakeResult(level Level, summary Summary, module Module, description Description) Code {
	return Code((uint32(level)&0x1F)<<27 |
		(uint32(summary)&0x3F)<<21 |
		(uint32(module)&0xFF)<<10 |
		uint32(description)&0x3FF)
}

const Success Code = 0

// Codes produced by the kernel and the service manager
var (
	RemoteSessionClosed = MakeResult(LevelStatus, SummaryCanceled, ModuleOS, 26)
	InvalidHeader       = MakeResult(LevelPermanent, SummaryWrongArg, ModuleOS, 47)
	InvalidIPCParameter = MakeResult(LevelPermanent, SummaryWrongArg, ModuleOS, 48)
)

// Codes returned to clients of the GPIO services
var (
	NotAuthorized = MakeResult(LevelUsage, SummaryInvalidArg, ModuleGPIO, DescriptionNotAuthorized)
	Busy          = MakeResult(LevelUsage, SummaryInvalidArg, ModuleGPIO, DescriptionBusy)
	NotFound      = MakeResult(LevelUsage, SummaryInvalidArg, ModuleGPIO, DescriptionNotFound)
)

// Fatal codes, only ever passed to the fatal error reporter
var (
	InternalRange = MakeResult(LevelFatal, SummaryInternal, ModuleGPIO, DescriptionOutOfRange)
	CanceledRange = MakeResult(LevelFatal, SummaryCanceled, ModuleGPIO, DescriptionOutOfRange)
)

func (c Code) Failed() bool {
	return int32(c) < 0
}

func (c Code) Succeeded() bool {
	return !c.Failed()
}

func (c Code) Level() Level {
	return Level(uint32(c) >> 27 & 0x1F)
}

func (c Code) Summary() Summary {
	return Summary(uint32(c) >> 21 & 0x3F)
}

func (c Code) Module() Module {
	return Module(uint32(c) >> 10 & 0xFF)
}

func (c Code) Description() Description {
	return Description(uint32(c) & 0x3FF)
}

var names = map[Code]string{}

func init() {
	names[RemoteSessionClosed] = "remote session closed"
	names[InvalidHeader] = "invalid command header"
	names[InvalidIPCParameter] = "invalid IPC parameter"
	names[NotAuthorized] = "not authorized"
	names[Busy] = "busy"
	names[NotFound] = "not found"
	names[InternalRange] = "internal index out of range"
	names[CanceledRange] = "closed session index out of range"
}

func (c Code) Error() string {
	if name, ok := names[c]; ok {
		return fmt.Sprintf("0x%08X (%s)", uint32(c), name)
	}
	return fmt.Sprintf("0x%08X (level=%d summary=%d module=%d description=%d)",
		uint32(c), c.Level(), c.Summary(), c.Module(), c.Description())
}

// FromError converts an error to a status word. Errors that are not a Code are
// reported as a generic internal failure.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	if c, ok := err.(Code); ok {
		return c
	}
	return MakeResult(LevelFatal, SummaryInternal, ModuleCommon, 0x3FF)
}

// Of finds the Code in the chain of err. Errors without one are reported as FromError does.
func Of(err error) Code {
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return FromError(err)
}
