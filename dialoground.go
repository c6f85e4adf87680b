package weft

// DialogRound is a derived, non-persisted grouping of contiguous messages
// representing one request/response cycle. It exists only for the duration
// of a compaction call; it is never stored.
type DialogRound struct {
	Messages []Message
}

// GroupRounds walks msgs front to back and groups them into DialogRounds
// per the three admissible shapes: User->Assistant->ToolResponse,
// User->Assistant, and Assistant->ToolResponse (agent-internal rounds with
// no user turn). A round terminates on a ToolResponse or on the next
// message that cannot extend it; a trailing open round is finalized at
// end-of-list.
func GroupRounds(msgs []Message) []DialogRound {
	var rounds []DialogRound
	var current *DialogRound
	hasUser := false

	finalize := func() {
		if current != nil {
			rounds = append(rounds, *current)
			current = nil
			hasUser = false
		}
	}

	for _, m := range msgs {
		switch m.Kind {
		case KindUser:
			finalize()
			current = &DialogRound{Messages: []Message{m}}
			hasUser = true
		case KindAssistant:
			if current != nil && hasUser {
				current.Messages = append(current.Messages, m)
				continue
			}
			finalize()
			current = &DialogRound{Messages: []Message{m}}
			hasUser = false
		case KindToolResponse:
			if current == nil {
				current = &DialogRound{}
			}
			current.Messages = append(current.Messages, m)
			finalize()
		default:
			if current != nil {
				current.Messages = append(current.Messages, m)
			}
			// No open round to extend: dropped, per the grouping algorithm.
		}
	}
	finalize()
	return rounds
}

// TotalMessages counts the messages across rounds.
func TotalMessages(rounds []DialogRound) int {
	n := 0
	for _, r := range rounds {
		n += len(r.Messages)
	}
	return n
}

// Flatten concatenates the messages of rounds back into a single list, in order.
func Flatten(rounds []DialogRound) []Message {
	out := make([]Message, 0, TotalMessages(rounds))
	for _, r := range rounds {
		out = append(out, r.Messages...)
	}
	return out
}
