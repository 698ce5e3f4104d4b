package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func buildTranscriptText(bot repository.Bot, turns []repository.Turn, endedAt time.Time, timezone string, loc *time.Location) []byte {
	startedAt := bot.CreatedAt
	startText := startedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)
	endText := endedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Meeting: %s", meetingTitle(bot)),
		fmt.Sprintf("Meeting URL: %s", bot.MeetingURL),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, timezone),
		fmt.Sprintf("Speakers: %s", strings.Join(canonicalSpeakers(turns), ", ")),
		"",
	}
	for _, turn := range turns {
		elapsed := turn.Timestamp.Sub(startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), renderTurnLine(turn)))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(bot repository.Bot, turns []repository.Turn, endedAt time.Time, timezone string, loc *time.Location) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	startedAt := bot.CreatedAt

	out := make([]webhook.TranscriptWebhookTurn, 0, len(turns))
	for _, turn := range turns {
		out = append(out, webhook.TranscriptWebhookTurn{
			Sequence:   turn.Sequence,
			SourceType: string(turn.SourceType),
			Speaker:    turn.SpeakerLabel,
			At:         turn.Timestamp.In(loc).Format(time.RFC3339),
			Content:    turn.Content,
		})
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:   webhook.TranscriptWebhookSchemaVersion,
		BotID:           bot.ID,
		ProviderBotID:   bot.ProviderBotID,
		MeetingURL:      bot.MeetingURL,
		MeetingName:     bot.MeetingName,
		ClientID:        bot.ClientID,
		StartAt:         startedAt.In(loc).Format(time.RFC3339),
		EndAt:           endedAt.In(loc).Format(time.RFC3339),
		Timezone:        timezone,
		DurationSeconds: durationSeconds,
		Speakers:        canonicalSpeakers(turns),
		TurnCount:       len(turns),
		Turns:           out,
		Transcript:      string(buildTranscriptText(bot, turns, endedAt, timezone, loc)),
	}
}

func renderTurnLine(turn repository.Turn) string {
	switch turn.SourceType {
	case repository.SourceChat:
		return fmt.Sprintf("[chat] %s: %s", turn.SpeakerLabel, turn.Content)
	case repository.SourceAssistant:
		return fmt.Sprintf("[assistant] %s: %s", turn.SpeakerLabel, turn.Content)
	case repository.SourceSystem:
		return fmt.Sprintf("[system] %s", turn.Content)
	}
	return fmt.Sprintf("%s: %s", turn.SpeakerLabel, turn.Content)
}

func meetingTitle(bot repository.Bot) string {
	if strings.TrimSpace(bot.MeetingName) != "" {
		return bot.MeetingName
	}
	return bot.MeetingURL
}

// canonicalSpeakers lists human speakers once each, case-insensitively ordered.
func canonicalSpeakers(turns []repository.Turn) []string {
	byKey := make(map[string]string, len(turns))
	for _, turn := range turns {
		if turn.SourceType == repository.SourceAssistant || turn.SourceType == repository.SourceSystem {
			continue
		}
		name := strings.TrimSpace(turn.SpeakerLabel)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := byKey[key]; !ok {
			byKey[key] = name
		}
	}
	names := make([]string, 0, len(byKey))
	for _, name := range byKey {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		in, jn := strings.ToLower(names[i]), strings.ToLower(names[j])
		if in != jn {
			return in < jn
		}
		return names[i] < names[j]
	})
	return names
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
