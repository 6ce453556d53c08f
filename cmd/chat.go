package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanpawarit/grooming-reservation-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	"github.com/tanpawarit/grooming-reservation-agent/agent/hitl"
	nodex "github.com/tanpawarit/grooming-reservation-agent/agent/nodes"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
)

const (
	quitCommand    = "q"
	approvalPrompt = "Do you approve of the above action? Type 'y' to continue; otherwise, explain your requested changes.\n> "
	maxResultChars = 300
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			s, err := a.history.CreateSession(ctx, "chat "+time.Now().Format("2006-01-02 15:04"))
			if err != nil {
				return err
			}
			sessionID = s.ID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s (type q to quit)\n", sessionID)

		return newChatLoop(cmd.InOrStdin(), cmd.OutOrStdout(), a.orchestrator, a.history, sessionID).run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "resume an existing chat session")
}

type chatService interface {
	HandleMessage(ctx context.Context, req orchestrator.MessageRequest) (orchestrator.Result, error)
	Decide(ctx context.Context, sessionID string, decision hitl.Decision, onTurn orchestrator.TurnHandler) (orchestrator.Result, error)
}

type phoneBook interface {
	PhoneNumber(ctx context.Context, sessionID string) (string, error)
	SetPhoneNumber(ctx context.Context, sessionID, phone string) error
}

type chatLoop struct {
	in        *bufio.Scanner
	out       io.Writer
	svc       chatService
	phones    phoneBook
	sessionID string
	phone     string
}

func newChatLoop(in io.Reader, out io.Writer, svc chatService, phones phoneBook, sessionID string) *chatLoop {
	return &chatLoop{
		in:        bufio.NewScanner(in),
		out:       out,
		svc:       svc,
		phones:    phones,
		sessionID: sessionID,
	}
}

// readLine prints prompt and returns the next trimmed line. ok is false at
// end of input.
func (c *chatLoop) readLine(prompt string) (line string, ok bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *chatLoop) run(ctx context.Context) error {
	if !c.askPhone(ctx) {
		return nil
	}
	for {
		question, ok := c.readLine("\nYou: ")
		if !ok || question == quitCommand {
			return nil
		}
		if question == "" {
			continue
		}

		res, err := c.svc.HandleMessage(ctx, orchestrator.MessageRequest{
			SessionID:   c.sessionID,
			Text:        question,
			UserContext: map[string]string{contractx.UserContextPhoneNumber: c.phone},
			OnTurn:      c.printTurn,
		})
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			if !errors.Is(err, orchestrator.ErrDecisionPending) {
				continue
			}
			res = orchestrator.Result{HasPendingDecision: true}
		}
		if !c.resolvePending(ctx, res) {
			return nil
		}
	}
}

func (c *chatLoop) askPhone(ctx context.Context) bool {
	if c.phones != nil {
		if stored, err := c.phones.PhoneNumber(ctx, c.sessionID); err == nil {
			if phone, valid := nodex.NormalizePhoneNumber(stored); valid {
				c.phone = phone
				return true
			}
		}
	}
	for {
		raw, ok := c.readLine("Please enter your phone number: ")
		if !ok || raw == quitCommand {
			return false
		}
		phone, valid := nodex.NormalizePhoneNumber(raw)
		if !valid {
			fmt.Fprintln(c.out, "That is not a valid mobile number, e.g. 010-1234-5678.")
			continue
		}
		c.phone = phone
		if c.phones != nil {
			if err := c.phones.SetPhoneNumber(ctx, c.sessionID, phone); err != nil {
				fmt.Fprintf(c.out, "warning: phone number not saved: %v\n", err)
			}
		}
		return true
	}
}

// resolvePending keeps asking for decisions until the session stops waiting.
// It returns false when input ended.
func (c *chatLoop) resolvePending(ctx context.Context, res orchestrator.Result) bool {
	for res.HasPendingDecision {
		answer, ok := c.readLine(approvalPrompt)
		if !ok {
			return false
		}
		d := hitl.FromAnswer(answer)
		if res.Pending != nil {
			d.CallID = res.Pending.ID
		}

		next, err := c.svc.Decide(ctx, c.sessionID, d, c.printTurn)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return true
		}
		res = next
	}
	return true
}

func (c *chatLoop) printTurn(t statex.Turn) {
	switch t.Role {
	case statex.RoleAssistant:
		if t.Content != "" {
			fmt.Fprintf(c.out, "Assistant: %s\n", t.Content)
		}
		if t.ToolCall != nil {
			args, _ := json.Marshal(t.ToolCall.Args)
			fmt.Fprintf(c.out, "  -> %s %s [%s]\n", t.ToolCall.Name, args, t.ToolCall.Classification)
		}
	case statex.RoleToolResult:
		content := t.Content
		if r := []rune(content); len(r) > maxResultChars {
			content = string(r[:maxResultChars]) + "..."
		}
		fmt.Fprintf(c.out, "  <- %s: %s\n", t.ToolName, content)
	}
}
