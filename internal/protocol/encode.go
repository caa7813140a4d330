package protocol

import (
	"fmt"
	"strings"
	"time"
)

// EncodeRoundStart renders a round announcement: header, bolded prompt line,
// and an optional time-remaining field when duration is positive.
func EncodeRoundStart(round int, prompt string, duration time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 **ROUND %d**\n\n**%s**\n", round, strings.TrimSpace(prompt))
	if duration > 0 {
		fmt.Fprintf(&b, "\n**Time Remaining:** %s\n", FormatClock(duration))
	}
	return b.String()
}

// EncodeRoundEnd renders the winner marker for a finished round. The award is
// omitted when points is zero.
func EncodeRoundEnd(winner string, points int) string {
	if points > 0 {
		return fmt.Sprintf("🏆 **WINNER:** u/%s (+%d points)\n", winner, points)
	}
	return fmt.Sprintf("🏆 **WINNER:** u/%s\n", winner)
}

// EncodeStatus renders a status snapshot with its labeled fields. The
// time-remaining line is omitted when remaining is not positive.
func EncodeStatus(round, submissions int, remaining time.Duration) string {
	var b strings.Builder
	b.WriteString("📊 **Game Status**\n\n")
	fmt.Fprintf(&b, "**Round:** %d\n", round)
	fmt.Fprintf(&b, "**Submissions:** %d\n", submissions)
	if remaining > 0 {
		fmt.Fprintf(&b, "**Time Remaining:** %s\n", FormatClock(remaining))
	}
	return b.String()
}

// EncodeLeaderboard renders ranked standings, one numbered line per entry in
// the given order. Zero win counts are left off their lines.
func EncodeLeaderboard(entries []LeaderboardEntry) string {
	var b strings.Builder
	b.WriteString("🏆 **LEADERBOARD**\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. u/%s - %d pts", i+1, e.Player, e.Points)
		if e.Wins > 0 {
			word := "wins"
			if e.Wins == 1 {
				word = "win"
			}
			fmt.Fprintf(&b, " (%d %s)", e.Wins, word)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// EncodeLifecycle renders a game phase transition marker.
func EncodeLifecycle(state LifecycleState) string {
	return fmt.Sprintf("🎮 **GAME %s**\n", state)
}

// EncodeGameInfo renders the root game comment body. It deliberately carries
// none of the decode markers so a refetch of the seed comments never produces
// a phantom update.
func EncodeGameInfo(title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎮 **SnapHunt: %s**\n\n", strings.TrimSpace(title))
	b.WriteString("Photo challenges drop below as rounds. Reply to a round comment with your shot to enter.\n")
	return b.String()
}

// EncodeRules renders the rules comment body as a numbered list.
func EncodeRules(lines []string) string {
	var b strings.Builder
	b.WriteString("📜 **RULES**\n")
	for i, line := range lines {
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSpace(line))
	}
	b.WriteString("\n")
	return b.String()
}

// EncodeStatusAnchor renders the comment that status snapshots reply to.
func EncodeStatusAnchor() string {
	return "📊 **Status**\n\nLive status updates appear as replies to this comment.\n"
}

// FormatClock renders a duration as MM:SS, the format the decoder's
// time-remaining pattern recognizes. Negative durations clamp to 00:00.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
