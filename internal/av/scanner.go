package av

import (
	"context"
	"strings"
)

// ScanVerdict is the outcome of a malware scan over one content stream.
type ScanVerdict struct {
	Clean  bool
	Engine string
	Detail string
}

// ContentScanner inspects uploaded content before it is linked. Verdicts are
// advisory: flagged content is stored with status "quarantined" and refused
// on download rather than rejected outright, so the audit trail keeps a
// record of the attempt.
type ContentScanner interface {
	Scan(ctx context.Context, fileName, digest string, length int64) (ScanVerdict, error)
}

// HeuristicScanner is a stub scanning engine: it flags content whose digest
// carries a known bad suffix. A real engine plugs in behind the same
// interface.
type HeuristicScanner struct{}

var _ ContentScanner = HeuristicScanner{}

func (HeuristicScanner) Scan(ctx context.Context, fileName, digest string, length int64) (ScanVerdict, error) {
	if strings.HasSuffix(digest, "bad") {
		return ScanVerdict{Engine: "stub-heuristic", Detail: "hash-heuristic-match"}, nil
	}
	return ScanVerdict{Clean: true, Engine: "stub-heuristic", Detail: "clean"}, nil
}
