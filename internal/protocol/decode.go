package protocol

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/snaphunt/snaphunt/internal/forum"
	"github.com/snaphunt/snaphunt/internal/thread"
)

// RoleResolver is the slice of the thread model decoding needs: mapping a
// comment's parent ID to the role slot it occupies.
type RoleResolver interface {
	RoleOf(commentID string) thread.Role
}

var (
	roundHeaderRe  = regexp.MustCompile(`\*\*ROUND\s+(\d+)\*\*`)
	promptLineRe   = regexp.MustCompile(`(?m)^\s*\*\*([^*\n]+[^*:\n])\*\*\s*$`)
	clockRe        = regexp.MustCompile(`\*\*Time Remaining:\*\*\s*(\d{1,3}):(\d{2})`)
	winnerRe       = regexp.MustCompile(`\*\*WINNER:\*\*\s*(?:u/)?([^\s(]+)`)
	pointsRe       = regexp.MustCompile(`\(\+(\d+)\s+points?\)`)
	statusHeaderRe = regexp.MustCompile(`\*\*Game Status\*\*`)
	statusRoundRe  = regexp.MustCompile(`\*\*Round:\*\*\s*(\d+)`)
	statusSubsRe   = regexp.MustCompile(`\*\*Submissions:\*\*\s*(\d+)`)
	leaderboardRe  = regexp.MustCompile(`\*\*LEADERBOARD\*\*`)
	entryRe        = regexp.MustCompile(`(?m)^\s*(\d+)\.\s+(?:u/)?(\S+)\s+-\s+(\d+)\s+pts?\b(?:\s*\((\d+)\s+wins?\))?`)
	lifecycleRe    = regexp.MustCompile(`GAME (STARTED|PAUSED|RESUMED|ENDED)`)
)

// Decode classifies one fetched comment against the thread's role slots and
// parses it into a typed update. Comments that match no known pattern return
// nil; that covers ordinary human replies and is not an error. Decoding is
// pure: the same comment always yields the same result.
//
// Classification is two-level. The parent's role slot narrows the candidate
// kinds, then body markers pick the variant:
//
//	post or root game comment  -> round announcement, leaderboard, lifecycle
//	status comment             -> status snapshot, leaderboard
//	round comment              -> round end (winner marker)
//
// Replies to round comments without a winner marker are player submissions or
// chatter; both decode to nil here and are handled by game logic instead.
func Decode(c forum.Comment, roles RoleResolver) Update {
	switch role := roles.RoleOf(c.ParentID); role.Kind {
	case thread.RolePost, thread.RoleGameComment:
		if u := decodeRoundStart(c.Body); u != nil {
			return u
		}
		if u := decodeLeaderboard(c.Body); u != nil {
			return u
		}
		if u := decodeLifecycle(c.Body); u != nil {
			return u
		}
	case thread.RoleStatusComment:
		if u := decodeStatus(c.Body); u != nil {
			return u
		}
		if u := decodeLeaderboard(c.Body); u != nil {
			return u
		}
	case thread.RoleRound:
		if u := decodeRoundEnd(c.Body); u != nil {
			return u
		}
	}
	return nil
}

func decodeRoundStart(body string) Update {
	loc := roundHeaderRe.FindStringSubmatchIndex(body)
	if loc == nil {
		return nil
	}
	round, err := strconv.Atoi(body[loc[2]:loc[3]])
	if err != nil {
		return nil
	}
	rest := body[loc[1]:]

	// Prompt may trail the header on the same line, or sit on its own bolded
	// line below it. Same-line prompts are cut at the next marker and lose
	// any trailing ellipsis.
	line := rest
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "**"); i >= 0 {
		line = line[:i]
	}
	prompt := strings.TrimRight(strings.TrimSpace(line), " .")
	if prompt == "" {
		if m := promptLineRe.FindStringSubmatch(rest); m != nil {
			prompt = strings.TrimSpace(m[1])
		}
	}

	u := &RoundStarted{Round: round, Prompt: prompt}
	if d, ok := parseClock(body); ok {
		u.Duration = d
	}
	return u
}

func decodeRoundEnd(body string) Update {
	m := winnerRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	u := &RoundEnded{Winner: m[1]}
	if pm := pointsRe.FindStringSubmatch(body); pm != nil {
		u.Points, _ = strconv.Atoi(pm[1])
	}
	return u
}

func decodeStatus(body string) Update {
	if !statusHeaderRe.MatchString(body) {
		return nil
	}
	u := &StatusSnapshot{}
	if m := statusRoundRe.FindStringSubmatch(body); m != nil {
		u.Round, _ = strconv.Atoi(m[1])
	}
	if m := statusSubsRe.FindStringSubmatch(body); m != nil {
		u.Submissions, _ = strconv.Atoi(m[1])
	}
	if d, ok := parseClock(body); ok {
		u.TimeRemaining = d
	}
	return u
}

func decodeLeaderboard(body string) Update {
	if !leaderboardRe.MatchString(body) {
		return nil
	}
	u := &LeaderboardSnapshot{}
	for _, m := range entryRe.FindAllStringSubmatch(body, -1) {
		rank, _ := strconv.Atoi(m[1])
		points, _ := strconv.Atoi(m[3])
		entry := LeaderboardEntry{Rank: rank, Player: m[2], Points: points}
		if m[4] != "" {
			entry.Wins, _ = strconv.Atoi(m[4])
		}
		u.Entries = append(u.Entries, entry)
	}
	return u
}

func decodeLifecycle(body string) Update {
	m := lifecycleRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	return &Lifecycle{State: LifecycleState(m[1])}
}

func parseClock(body string) (time.Duration, bool) {
	m := clockRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	mins, _ := strconv.Atoi(m[1])
	secs, _ := strconv.Atoi(m[2])
	return time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second, true
}
