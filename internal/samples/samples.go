// Package samples provides demo data for the Lexsy, Inc. client: an advisor
// equity-grant email thread and the legal documents it refers to.
package samples

import (
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

//go:embed data/*.txt
var data embed.FS

// ClientID and ClientName identify the demo client.
const (
	ClientID   = "lexsy"
	ClientName = "Lexsy, Inc."
)

// ThreadID is the thread of the equity-grant messages and the prefix of
// their source IDs.
const ThreadID = "mock_thread_equity_001"

const (
	founder = "alex@founderco.com"
	counsel = "legal@lexsy.com"
)

// ThreadStart is the timestamp of the first message.
var ThreadStart = time.Date(2025, 7, 19, 16, 0, 0, 0, time.UTC)

type message struct {
	sender  string
	subject string
	delay   time.Duration // after the previous message
}

var thread = []message{
	{founder, "Advisor Equity Grant for Lexsy, Inc.", 0},
	{counsel, "Re: Advisor Equity Grant for Lexsy, Inc.", 5 * time.Hour},
	{founder, "Re: Advisor Equity Grant for Lexsy, Inc.", 18 * time.Hour},
	{counsel, "Re: Advisor Equity Grant for Lexsy, Inc. - Tax Analysis & Recommendations", 8 * time.Hour},
	{founder, "Re: Advisor Equity Grant - APPROVED! Moving Forward", 2 * time.Hour},
	{counsel, "EQUITY GRANT PACKAGE READY - John Smith Advisor Agreement", 26 * time.Hour},
}

type document struct {
	file  string
	title string
}

var documents = []document{
	{"board-approval-equity-incentive-plan.txt", "Lexsy, Inc - Board Approval of Equity Incentive Plan.pdf"},
	{"advisor-agreement-template.txt", "Lexsy, Inc. - Form of Advisor Agreement.docx"},
	{"equity-incentive-plan.txt", "Lexsy, Inc. - Equity Incentive Plan (EIP).pdf"},
}

// EquityThread returns the six messages of the advisor equity-grant thread,
// oldest first. Source IDs are "<ThreadID>_1" through "<ThreadID>_6".
func EquityThread() []model.SourceItem {
	items := make([]model.SourceItem, len(thread))
	at := ThreadStart
	for i, m := range thread {
		at = at.Add(m.delay)
		items[i] = model.SourceItem{
			SourceID:     fmt.Sprintf("%s_%d", ThreadID, i+1),
			Type:         model.SourceEmail,
			Title:        m.subject,
			Sender:       m.sender,
			Participants: []string{founder, counsel},
			ThreadID:     ThreadID,
			Timestamp:    at,
			Text:         mustRead(fmt.Sprintf("equity-%d.txt", i+1)),
		}
	}
	return items
}

// Documents returns the sample legal documents.
func Documents() []model.SourceItem {
	items := make([]model.SourceItem, len(documents))
	for i, d := range documents {
		items[i] = model.SourceItem{
			SourceID: strings.TrimSuffix(d.file, ".txt"),
			Type:     model.SourceDocument,
			Title:    d.title,
			Filename: d.title,
			Text:     mustRead(d.file),
		}
	}
	return items
}

// All returns the documents followed by the thread.
func All() []model.SourceItem {
	return append(Documents(), EquityThread()...)
}

// Questions are demo questions answerable from the Lexsy samples.
func Questions() []string {
	return []string{
		"What equity grant was proposed for John Smith?",
		"What are the vesting terms discussed in emails?",
		"How many shares are available in our equity incentive plan?",
		"What documentation is needed for the advisor agreement?",
		"What board approvals are required?",
	}
}

func mustRead(name string) string {
	b, err := data.ReadFile("data/" + name)
	if err != nil {
		panic(fmt.Sprintf("samples: %v", err))
	}
	return string(b)
}
