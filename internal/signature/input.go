package signature

import (
	"fmt"

	"crashproc/internal/tree"
)

// Frame is one stack frame of the crashing thread.
type Frame struct {
	Function     string
	Module       string
	File         string
	ModuleOffset string
	Offset       string
}

// Input is the part of a crash the generator looks at. It is a copy, so a
// generator run never shares state with the crash containers.
type Input struct {
	CrashID string
	// CrashingThread is -1 when the stackwalker could not tell which thread
	// crashed.
	CrashingThread int
	Frames         []Frame

	JavaStackTrace string

	OOMAllocationSize    int64
	HasOOMAllocationSize bool
	AbortMessage         string
}

// NewInput copies the signature relevant fields out of a raw and a
// processed crash.
func NewInput(raw, processed map[string]any) *Input {
	in := &Input{CrashingThread: -1}

	in.CrashID = tree.String(raw, "uuid", "")
	in.JavaStackTrace = tree.String(processed, "java_stack_trace", "")
	in.AbortMessage = tree.String(raw, "AbortMessage", "")

	if v, ok := raw["OOMAllocationSize"]; ok {
		in.OOMAllocationSize, in.HasOOMAllocationSize = tree.AsInt(v)
	}

	dump, ok := tree.Map(processed, "json_dump")
	if !ok {
		return in
	}

	v, ok := tree.Get(dump, "crash_info.crashing_thread")
	if !ok {
		return in
	}

	idx, ok := tree.AsInt(v)
	if !ok || idx < 0 {
		return in
	}

	in.CrashingThread = int(idx)

	threads, _ := tree.Slice(dump, "threads")
	if int(idx) >= len(threads) {
		return in
	}

	frames, _ := tree.Slice(threads[idx], "frames")
	for _, f := range frames {
		in.Frames = append(in.Frames, Frame{
			Function:     tree.String(f, "function", ""),
			Module:       tree.String(f, "module", ""),
			File:         tree.String(f, "file", ""),
			ModuleOffset: scalar(f, "module_offset"),
			Offset:       scalar(f, "offset"),
		})
	}

	return in
}

func scalar(v any, path string) string {
	val, ok := tree.Get(v, path)
	if !ok || val == nil {
		return ""
	}

	if s, ok := val.(string); ok {
		return s
	}

	if n, ok := tree.AsInt(val); ok {
		return fmt.Sprintf("0x%x", n)
	}

	return ""
}
