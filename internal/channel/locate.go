package channel

import (
	"context"
	"fmt"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// Search window bounds for LocateMessage.
const (
	LocateInitialWindow = 100
	LocateWindowStep    = 100
	LocateMaxWindow     = 500
)

// LocateMessage finds nativeID in the conversation history by fetching a widening window
// of recent messages. The loop is bounded by LocateMaxWindow and stops early when the
// platform returns fewer messages than asked (history exhausted).
func LocateMessage(ctx context.Context, fetcher HistoryFetcher, session Session, dest, nativeID string) (HistoryMessage, error) {
	if fetcher == nil {
		return HistoryMessage{}, apperr.Newf(apperr.KindConfiguration, "channel.locate", "channel %s cannot fetch history", session.Type)
	}
	for limit := LocateInitialWindow; limit <= LocateMaxWindow; limit += LocateWindowStep {
		if err := ctx.Err(); err != nil {
			return HistoryMessage{}, err
		}
		items, err := fetcher.FetchRecent(ctx, session, dest, limit)
		if err != nil {
			return HistoryMessage{}, fmt.Errorf("fetch %d recent messages: %w", limit, err)
		}
		for _, item := range items {
			if item.NativeID == nativeID {
				return item, nil
			}
		}
		if len(items) < limit {
			break
		}
	}
	return HistoryMessage{}, apperr.Newf(apperr.KindNotFound, "channel.locate", "message %s not within the last %d messages", nativeID, LocateMaxWindow)
}
