package history

// StateValue converts messages to the generic form a run state carries.
// Run states round-trip through JSON snapshots, so values must stay in
// JSON-native shapes.
func StateValue(msgs []Message) []any {
	out := make([]any, len(msgs))
	for i, msg := range msgs {
		out[i] = map[string]any{"role": msg.Role, "content": msg.Content}
	}
	return out
}

// FromStateValue parses a state value back into messages. It accepts
// both the form produced by StateValue and what that form becomes after
// a JSON round trip. Unrecognized elements are skipped.
func FromStateValue(v any) []Message {
	switch vs := v.(type) {
	case []Message:
		return append([]Message(nil), vs...)
	case []any:
		out := make([]Message, 0, len(vs))
		for _, elem := range vs {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			msg := Message{}
			if role, ok := m["role"].(string); ok {
				msg.Role = role
			}
			if content, ok := m["content"].(string); ok {
				msg.Content = content
			}
			out = append(out, msg)
		}
		return out
	}
	return nil
}
