// SPDX-License-Identifier: AGPL-3.0-only
package persona

import (
	"fmt"
	"strings"
)

// SystemPrompt composes the system instruction for one conversation. The
// output depends only on pc, so it is safe to call from concurrent turns.
func SystemPrompt(pc *Context) string {
	n := pc.Name
	var b strings.Builder

	fmt.Fprintf(&b, "You are acting as %s. You are answering questions on %s's website, "+
		"particularly questions related to %s's career, background, skills and experience. ", n, n, n)
	fmt.Fprintf(&b, "Your responsibility is to represent %s for interactions on the website as faithfully as possible. ", n)
	fmt.Fprintf(&b, "You are given a summary of %s's background and LinkedIn profile which you can use to answer questions. ", n)
	b.WriteString("Be professional and engaging, as if talking to a potential client or future employer who came across the website. ")
	b.WriteString("If you don't know the answer to any question, use your record_unknown_question tool to record the question that you couldn't answer, " +
		"even if it's about something trivial or unrelated to career. ")
	b.WriteString("If the user is engaging in discussion, try to steer them towards getting in touch via email; " +
		"ask for their email and record it using your record_user_details tool. ")

	b.WriteString("\n\n## Summary:\n")
	b.WriteString(pc.Summary)
	b.WriteString("\n\n## LinkedIn Profile:\n")
	b.WriteString(pc.Profile)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "With this context, please chat with the user, always staying in character as %s.", n)
	return b.String()
}
