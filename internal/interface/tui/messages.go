package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/neilberkman/pcswitcher/internal/core/events"
)

// eventMsg carries one bus event into the program
type eventMsg struct {
	event events.Event
}

// busClosedMsg means the session is over and every event was delivered
type busClosedMsg struct{}

// promptMsg asks the user a yes/no question on behalf of the session
type promptMsg struct {
	question string
	reply    chan<- bool
}

// listen waits for the next bus event
func listen(sub *events.Subscription) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-sub.Events()
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg{event: e}
	}
}

// waitForPrompt waits for the next question. It returns nil once the
// prompter is closed.
func waitForPrompt(p *Prompter) tea.Cmd {
	return func() tea.Msg {
		select {
		case req := <-p.requests:
			return req
		case <-p.closed:
			return nil
		}
	}
}
