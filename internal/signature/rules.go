package signature

import (
	"regexp"
	"strings"

	"crashproc/pkg/utils"
)

const (
	// MaxSignatureLength bounds the signature stored on a processed crash.
	MaxSignatureLength = 255
	// maxProtoFrames bounds the frames joined into proto_signature.
	maxProtoFrames = 40
	// oomSmallThreshold is the largest allocation reported as a small OOM.
	oomSmallThreshold = 262144
	// maxAbortMessage bounds the abort message embedded in a signature.
	maxAbortMessage = 80
)

// DefaultRules returns the standard signature pipeline.
func DefaultRules() []Rule {
	return []Rule{
		&GenerationRule{},
		&OOMSignature{},
		&AbortSignature{},
		&SigTrunc{},
	}
}

var (
	// Frames that carry no information about the crash.
	irrelevantFrames = regexp.MustCompile(`^(@0x[0-9a-fA-F]{2,}|_purecall|KiFastSystemCallRet|__libc_start_main|_start|raise|abort|__GI_raise|__GI_abort|NtWaitForMultipleObjects|WaitForMultipleObjectsEx|RtlUserThreadStart|BaseThreadInitThunk|libc\.so.*|libpthread\.so.*|linux-gate\.so.*)$`)

	// Frames kept in the signature while looking for a more specific one.
	prefixFrames = regexp.MustCompile(`^(moz_xmalloc|moz_xcalloc|moz_xrealloc|malloc|calloc|realloc|free|je_malloc|je_free|je_realloc|arena_.*|memcpy|memmove|memset|memcmp|strlen|strcmp|strcpy|PR_.*|NS_ABORT_OOM.*|NS_DebugBreak|mozalloc_abort.*|mozalloc_handle_oom.*|RtlpAllocateHeap|RtlAllocateHeap|RtlFreeHeap|core::panicking::.*|std::panicking::.*|rust_panic|rust_begin_unwind|MOZ_Crash|mozilla::detail::InvalidArrayIndex_CRASH)$`)

	// Functions whose presence at the top of the stack marks an OOM.
	oomFrames = regexp.MustCompile(`^(NS_ABORT_OOM.*|mozalloc_handle_oom.*|CrashAtUnhandlableOOM|AutoEnterOOMUnsafeRegion.*)`)
)

// GenerationRule builds the signature from the crashing thread's frames,
// or from the Java stack trace when there is one.
type GenerationRule struct{}

// Name implements Rule.
func (r *GenerationRule) Name() string { return "SignatureGenerationRule" }

// Predicate implements Rule.
func (r *GenerationRule) Predicate(*Input, *Result) bool { return true }

// Action implements Rule.
func (r *GenerationRule) Action(in *Input, res *Result) error {
	if in.JavaStackTrace != "" && in.JavaStackTrace != "malformed" {
		res.Signature = JavaSignature(in.JavaStackTrace)
		return nil
	}

	if in.CrashingThread < 0 {
		res.Signature = "EMPTY: no crashing thread identified"
		res.AddNote("CSignatureTool: No signature could be created because we do not know which thread crashed")

		return nil
	}

	if len(in.Frames) == 0 {
		res.Signature = "EMPTY: no frame data available"
		res.AddNote("CSignatureTool: No frame data available")

		return nil
	}

	normalized := make([]string, 0, min(len(in.Frames), maxProtoFrames))
	for _, f := range in.Frames[:min(len(in.Frames), maxProtoFrames)] {
		normalized = append(normalized, NormalizeFrame(f))
	}

	res.SetExtra("proto_signature", strings.Join(normalized, " | "))
	res.Signature = assemble(normalized)

	return nil
}

// assemble joins leading prefix frames with the first meaningful frame.
func assemble(frames []string) string {
	var parts []string

	for _, f := range frames {
		if irrelevantFrames.MatchString(f) {
			continue
		}

		parts = append(parts, f)
		if !prefixFrames.MatchString(f) {
			break
		}
	}

	return strings.Join(parts, " | ")
}

// NormalizeFrame renders a frame for use in a signature. Template arguments
// collapse to <T> and parameter lists are dropped. Frames without a
// function name fall back to module@offset.
func NormalizeFrame(f Frame) string {
	if f.Function != "" {
		return collapseTemplates(dropParameters(strings.TrimSpace(f.Function)))
	}

	if f.Module != "" {
		if f.ModuleOffset != "" {
			return f.Module + "@" + f.ModuleOffset
		}

		return f.Module
	}

	if f.Offset != "" {
		return "@" + f.Offset
	}

	return "@0x0"
}

// collapseTemplates replaces every outermost template argument list with
// <T>. Unbalanced input is returned unchanged.
func collapseTemplates(fn string) string {
	if strings.Contains(fn, "operator<") || strings.Contains(fn, "operator>") {
		return fn
	}

	var b strings.Builder
	depth := 0

	for _, c := range fn {
		switch c {
		case '<':
			if depth == 0 {
				b.WriteString("<T>")
			}

			depth++
		case '>':
			depth--
			if depth < 0 {
				return fn
			}
		default:
			if depth == 0 {
				b.WriteRune(c)
			}
		}
	}

	if depth != 0 {
		return fn
	}

	return b.String()
}

// dropParameters removes a trailing parameter list outside any template.
func dropParameters(fn string) string {
	if !strings.HasSuffix(fn, ")") {
		return fn
	}

	depth := 0
	for i := len(fn) - 1; i >= 0; i-- {
		switch fn[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				if i == 0 {
					return fn
				}

				return strings.TrimSpace(fn[:i])
			}
		}
	}

	return fn
}

// JavaSignature names the exception type and its first frame.
func JavaSignature(trace string) string {
	lines := strings.Split(trace, "\n")
	exception := strings.TrimSpace(lines[0])

	for _, line := range lines[1:] {
		frame, ok := strings.CutPrefix(strings.TrimSpace(line), "at ")
		if !ok {
			continue
		}

		if i := strings.Index(frame, "("); i > 0 {
			frame = frame[:i]
		}

		return exception + ": " + frame
	}

	return exception
}

// OOMSignature marks out of memory crashes.
type OOMSignature struct{}

// Name implements Rule.
func (r *OOMSignature) Name() string { return "OOMSignature" }

// Predicate implements Rule.
func (r *OOMSignature) Predicate(in *Input, res *Result) bool {
	if strings.HasPrefix(res.Signature, "OOM |") {
		return false
	}

	return in.HasOOMAllocationSize || oomFrames.MatchString(res.Signature)
}

// Action implements Rule.
func (r *OOMSignature) Action(in *Input, res *Result) error {
	switch {
	case !in.HasOOMAllocationSize:
		res.Signature = "OOM | unknown | " + res.Signature
	case in.OOMAllocationSize <= oomSmallThreshold:
		res.Signature = "OOM | small"
	default:
		res.Signature = "OOM | large | " + res.Signature
	}

	return nil
}

// AbortSignature prepends the abort message of crashes that aborted.
type AbortSignature struct{}

// Name implements Rule.
func (r *AbortSignature) Name() string { return "AbortSignature" }

// Predicate implements Rule.
func (r *AbortSignature) Predicate(in *Input, res *Result) bool {
	return in.AbortMessage != "" && !strings.HasPrefix(res.Signature, "OOM |")
}

// Action implements Rule.
func (r *AbortSignature) Action(in *Input, res *Result) error {
	msg := in.AbortMessage
	if _, after, ok := strings.Cut(msg, "###!!! ABORT: "); ok {
		msg = after
	}

	if before, _, ok := strings.Cut(msg, ": file "); ok {
		msg = before
	}

	strs := utils.NewStringHelper()
	msg = strs.NormalizeWhitespace(msg)
	if msg == "" {
		return nil
	}

	res.Signature = "Abort | " + strs.TruncateString(msg, maxAbortMessage) + " | " + res.Signature

	return nil
}

// SigTrunc shortens signatures that do not fit MaxSignatureLength.
type SigTrunc struct{}

// Name implements Rule.
func (r *SigTrunc) Name() string { return "SigTrunc" }

// Predicate implements Rule.
func (r *SigTrunc) Predicate(_ *Input, res *Result) bool {
	return len(res.Signature) > MaxSignatureLength
}

// Action implements Rule.
func (r *SigTrunc) Action(_ *Input, res *Result) error {
	res.Signature = utils.NewStringHelper().TruncateString(res.Signature, MaxSignatureLength-3)
	res.AddNote("signature truncated due to length")

	return nil
}
