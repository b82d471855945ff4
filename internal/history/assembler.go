package history

// Assembler combines a system prompt, prior history and the new user prompt
// into the message list sent to a provider.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}

// StandardAssembler emits system (when set) + history + user.
type StandardAssembler struct{}

func (a *StandardAssembler) Assemble(system string, history []Message, userMsg string) []Message {
	messages := make([]Message, 0, 1+len(history)+1)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userMsg})
	return messages
}
