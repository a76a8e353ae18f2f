package chat

import "github.com/folio-site/folio/pkg/models"

// View is the presentation layer a Session drives. Calls arrive from the
// goroutine running Send, Clear or Attach.
type View interface {
	RenderUserTurn(text string)
	RenderAssistantTurn(text string)
	// RenderTranscript draws a restored transcript verbatim.
	RenderTranscript(turns []models.Turn)
	ShowTyping()
	HideTyping()
	// RemoveLastUserRender undoes the most recent RenderUserTurn after a
	// failed round trip.
	RemoveLastUserRender()
	// ShowError displays a short, transient error banner.
	ShowError(text string)
	RevealHistoryControls()
	HideHistoryControls()
	ClearTranscript()
	ReseedWelcome(text string)
	// DisableInput and EnableInput bracket every Send. EnableInput also
	// returns focus to the input.
	DisableInput()
	EnableInput()
}

// NopView ignores every event.
type NopView struct{}

var _ View = NopView{}

func (NopView) RenderUserTurn(string)          {}
func (NopView) RenderAssistantTurn(string)     {}
func (NopView) RenderTranscript([]models.Turn) {}
func (NopView) ShowTyping()                    {}
func (NopView) HideTyping()                    {}
func (NopView) RemoveLastUserRender()          {}
func (NopView) ShowError(string)               {}
func (NopView) RevealHistoryControls()         {}
func (NopView) HideHistoryControls()           {}
func (NopView) ClearTranscript()               {}
func (NopView) ReseedWelcome(string)           {}
func (NopView) DisableInput()                  {}
func (NopView) EnableInput()                   {}
