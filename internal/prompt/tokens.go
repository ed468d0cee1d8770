package prompt

// EstimateTokens estimates the token count of text. ASCII runes weigh one
// quarter of a token, other runes a full token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// TurnTokens estimates the cost of one turn in the serialized context.
func TurnTokens(transcript, reply string) int {
	return EstimateTokens(transcript) + EstimateTokens(reply)
}
