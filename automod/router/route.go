// Maps a detection result to exactly one moderation action, and carries that action out.
package router

import (
	"fmt"

	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/detection"
)

type Kind string

const (
	KindNone Kind = "none"
	// blocklisted URL: instant cross-chat ban and delete, regardless of confidence
	KindHardBlock Kind = "hard_block"
	// delete and alert admins, no ban
	KindMalware Kind = "malware"
	// report for human review
	KindReview Kind = "review"
	// confident spam: cross-chat ban and delete
	KindAutoBan Kind = "auto_ban"
)

type Decision struct {
	Kind   Kind
	Reason string
}

func (d Decision) IsBan() bool {
	return d.Kind == KindHardBlock || d.Kind == KindAutoBan
}

// Picks the action for a detection result. The first matching rule wins:
//
//  1. UrlBlocklist reported Spam: hard block
//  2. any check reported Malware: delete + alert
//  3. the AI classifier itself asked for Review: review, even if auto-ban would otherwise apply
//  4. net confidence above AutoBanThreshold, and the AI classifier says Spam with at least ConfidentThreshold: auto-ban
//  5. net confidence above ReviewThreshold: review
//  6. otherwise nothing
func Route(res *detection.ContentDetectionResult, th config.DetectionThresholds) Decision {
	if res == nil {
		return Decision{Kind: KindNone}
	}

	if url := res.Check(detection.CheckURLBlocklist); url != nil && url.Result == detection.Spam {
		reason := "policy violation: blocklisted URL"
		if url.Details != "" {
			reason += " (" + url.Details + ")"
		}
		return Decision{Kind: KindHardBlock, Reason: reason}
	}

	for _, cr := range res.Results() {
		if cr.Result == detection.Malware {
			reason := fmt.Sprintf("malware detected by %s", cr.CheckName)
			if cr.Details != "" {
				reason += ": " + cr.Details
			}
			return Decision{Kind: KindMalware, Reason: reason}
		}
	}

	ai := res.Check(detection.CheckOpenAI)
	if ai != nil && ai.Result == detection.Review {
		return Decision{
			Kind:   KindReview,
			Reason: fmt.Sprintf("AI classifier requested review (net confidence %d)", res.NetConfidence),
		}
	}

	netAboveBan := res.NetConfidence > th.AutoBanThreshold
	if netAboveBan && ai != nil && ai.Result == detection.Spam && ai.Confidence >= th.ConfidentThreshold {
		return Decision{
			Kind:   KindAutoBan,
			Reason: fmt.Sprintf("confident spam (net confidence %d, AI confidence %d)", res.NetConfidence, ai.Confidence),
		}
	}

	if res.NetConfidence > th.ReviewThreshold {
		if netAboveBan {
			verdict := "no verdict"
			if ai != nil {
				verdict = fmt.Sprintf("%s at %d", ai.Result, ai.Confidence)
			}
			return Decision{
				Kind:   KindReview,
				Reason: fmt.Sprintf("AI uncertain: net confidence %d, AI %s", res.NetConfidence, verdict),
			}
		}
		return Decision{
			Kind:   KindReview,
			Reason: fmt.Sprintf("borderline net confidence %d", res.NetConfidence),
		}
	}
	return Decision{Kind: KindNone}
}
