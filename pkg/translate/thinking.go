package translate

// ThinkingMode controls how reasoning output is surfaced to the caller.
// It is configuration, resolved once per stream, never re-read per frame.
//
// Real requests thought parts from the upstream and surfaces them; with
// StreamAsContent also set they are merged into normal content between
// thinkingOpen/thinkingClose delimiters instead of appearing as
// distinguished reasoning deltas. Fake, effective only while Real is
// disabled, injects a fixed synthetic preamble before any content. The
// preamble is not model output and is documented as such.
type ThinkingMode struct {
	Fake            bool
	Real            bool
	StreamAsContent bool
}

// Delimiters wrapped around thought text when it is merged into content.
const (
	thinkingOpen  = "<thinking>\n"
	thinkingClose = "\n</thinking>\n\n"
)

// fakePreamble is the deterministic synthetic reasoning text used by fake
// thinking mode. It is generated by the gateway, not by the model.
const fakePreamble = "Let me work through this request step by step and " +
	"put together a clear answer.\n"
