package server_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/server"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

var _ = Describe("Websocket protocol", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	AfterEach(func() {
		h.close()
	})

	It("acknowledges hello with the client session id", func() {
		c := h.dial("")
		c.send(types.Command{Type: types.CmdHello, ID: "h1", Sender: "alice"})
		reply := c.reply("h1")
		Expect(reply.Type).To(Equal(types.EventAck))
		Expect(reply.Text).NotTo(BeEmpty())
	})

	It("runs a turn and streams its events in order", func() {
		h.backend.Push(provider.Text("hi there"))
		c := h.dial("alice")

		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "hello"})
		ack := c.reply("m1")
		Expect(ack.Type).To(Equal(types.EventAck))
		convID := ack.ConvID
		Expect(convID).NotTo(BeEmpty())

		resp := c.await(types.EventResponse, convID)
		Expect(resp.Text).To(Equal("hi there"))
		Expect(resp.RoomID).To(Equal("room1"))

		var seqs []uint64
		for _, ev := range c.all() {
			if ev.ConvID == convID && ev.Type != types.EventHistory && ev.Seq > 0 {
				seqs = append(seqs, ev.Seq)
			}
		}
		Expect(seqs).NotTo(BeEmpty())
		for i := 1; i < len(seqs); i++ {
			Expect(seqs[i]).To(Equal(seqs[i-1]+1), "seq gap in %v", seqs)
		}

		hist := c.history(convID)
		Expect(hist).To(HaveLen(2))
		Expect(hist[0].Content).To(Equal("hello"))
		Expect(hist[1].Content).To(Equal("hi there"))
	})

	It("shares approvals between clients attached to the same conversation", func() {
		h.backend.Push(
			provider.Calls(call("call1", "danger", `{"text":"rm"}`)),
			provider.Text("finished"),
		)
		first := h.dial("alice")
		first.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "do it"})
		convID := first.reply("m1").ConvID
		req := first.await(types.EventApprovalRequired, convID)
		Expect(req.Approval.CallID).To(Equal("call1"))
		Expect(h.dangerCalls.Load()).To(BeZero())

		second := h.dial("bob")
		second.send(types.Command{Type: types.CmdAttach, ID: "a1", RoomID: "room1"})
		Expect(second.reply("a1").Type).To(Equal(types.EventAck))
		hist := second.await(types.EventHistory, convID)
		Expect(hist.Pending).To(HaveLen(1))
		Expect(hist.State).To(Equal(types.StateAwaitingApproval))
		Expect(second.history(convID)).To(Equal(first.history(convID)))

		second.send(types.Command{Type: types.CmdApprove, ID: "p1", RoomID: "room1"})
		Expect(second.reply("p1").Type).To(Equal(types.EventAck))

		for _, c := range []*wsClient{first, second} {
			Expect(c.await(types.EventToolResult, convID).Message.Content).To(ContainSubstring("done: rm"))
			Expect(c.await(types.EventResponse, convID).Text).To(Equal("finished"))
			resolved := c.await(types.EventApprovalResolved, convID)
			Expect(resolved.Decision.Actor).To(Equal("bob"))
		}
		Expect(h.dangerCalls.Load()).To(Equal(int32(1)))
		Expect(second.history(convID)).To(Equal(first.history(convID)))
	})

	It("feeds a denial back to the model without running the tool", func() {
		h.backend.Push(
			provider.Calls(call("call1", "danger", `{"text":"rm"}`)),
			provider.Text("ok, I will not"),
		)
		c := h.dial("alice")
		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "do it"})
		convID := c.reply("m1").ConvID
		c.await(types.EventApprovalRequired, convID)

		c.send(types.Command{Type: types.CmdDeny, ID: "d1", ConvID: convID, CallID: "call1", Text: "too risky"})
		Expect(c.reply("d1").Type).To(Equal(types.EventAck))

		result := c.await(types.EventToolResult, convID)
		Expect(result.Message.Status).To(Equal(types.ToolDenied))
		Expect(result.Message.Content).To(ContainSubstring("too risky"))
		Expect(c.await(types.EventResponse, convID).Text).To(Equal("ok, I will not"))
		Expect(h.dangerCalls.Load()).To(BeZero())
	})

	It("rejects a second message while a turn is active and stops on request", func() {
		h.backend.Push(provider.Hang())
		c := h.dial("alice")
		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "one"})
		convID := c.reply("m1").ConvID
		Eventually(h.backend.Started()).Should(Receive())

		c.send(types.Command{Type: types.CmdSendMessage, ID: "m2", RoomID: "room1", Text: "two"})
		busy := c.reply("m2")
		Expect(busy.Type).To(Equal(types.EventError))
		Expect(busy.Error.Code).To(Equal(types.CodeBusy))
		Expect(busy.ConvID).To(Equal(convID))

		c.send(types.Command{Type: types.CmdStop, ID: "s1", RoomID: "room1"})
		stop := c.reply("s1")
		Expect(stop.Type).To(Equal(types.EventAck))
		Expect(stop.Text).To(Equal("stopped"))
		Expect(c.await(types.EventCancelled, convID).Text).To(Equal("alice"))

		c.send(types.Command{Type: types.CmdStop, ID: "s2", RoomID: "room1"})
		Expect(c.reply("s2").Text).To(Equal("not running"))
	})

	It("executes chat commands without calling the model", func() {
		c := h.dial("alice")

		c.send(types.Command{Type: types.CmdSendMessage, ID: "c1", RoomID: "room1", Text: "!models"})
		models := c.reply("c1")
		Expect(models.Type).To(Equal(types.EventModelList))
		Expect(models.Models).To(HaveLen(2))

		c.send(types.Command{Type: types.CmdSendMessage, ID: "c2", RoomID: "room1", Text: "!new"})
		created := c.reply("c2")
		Expect(created.Type).To(Equal(types.EventConversationCreated))
		c.await(types.EventHistory, created.ConvID)

		c.send(types.Command{Type: types.CmdSendMessage, ID: "c3", RoomID: "room1", Text: "!lst"})
		Expect(c.reply("c3").Text).To(ContainSubstring("Did you mean `!list`?"))

		Expect(h.backend.Requests()).To(BeEmpty())
		Expect(h.tracer.find(trace.EventCommand)).To(HaveLen(3))
	})

	It("handles conversation administration frames", func() {
		c := h.dial("alice")

		c.send(types.Command{Type: types.CmdNewConversation, ID: "n1", RoomID: "room1", Model: "gpt-5.2"})
		first := c.reply("n1")
		Expect(first.Type).To(Equal(types.EventConversationCreated))
		Expect(first.Model).To(Equal("gpt-5.2"))

		c.send(types.Command{Type: types.CmdNewConversation, ID: "n2", RoomID: "room1"})
		second := c.reply("n2")

		c.send(types.Command{Type: types.CmdListConversations, ID: "l1", RoomID: "room1"})
		list := c.reply("l1")
		Expect(list.Conversations).To(HaveLen(2))
		Expect(list.Conversations[1].ConvID).To(Equal(second.ConvID))
		Expect(list.Conversations[1].Active).To(BeTrue())

		c.send(types.Command{Type: types.CmdUseConversation, ID: "u1", RoomID: "room1", ConvID: first.ConvID})
		Expect(c.reply("u1").Type).To(Equal(types.EventAck))

		c.send(types.Command{Type: types.CmdSetModel, ID: "s1", RoomID: "room1", Model: "gpt-4o-mini"})
		Expect(c.reply("s1").ConvID).To(Equal(first.ConvID))
		Expect(c.await(types.EventModelChanged, first.ConvID).Model).To(Equal("gpt-4o-mini"))

		c.send(types.Command{Type: types.CmdSetModel, ID: "s2", RoomID: "room1", Model: "gpt-9"})
		bad := c.reply("s2")
		Expect(bad.Type).To(Equal(types.EventError))
		Expect(bad.Error.Code).To(Equal(types.CodeInvalidArguments))

		c.send(types.Command{Type: types.CmdReset, ID: "r1", ConvID: first.ConvID})
		Expect(c.reply("r1").Type).To(Equal(types.EventAck))
		c.await(types.EventConversationReset, first.ConvID)

		c.send(types.Command{Type: types.CmdDeleteConversation, ID: "x1", ConvID: second.ConvID})
		Expect(c.reply("x1").Type).To(Equal(types.EventAck))
		c.await(types.EventConversationDeleted, second.ConvID)

		c.send(types.Command{Type: types.CmdDetach, ID: "d1", ConvID: first.ConvID})
		Expect(c.reply("d1").Type).To(Equal(types.EventAck))
		c.send(types.Command{Type: types.CmdDetach, ID: "d2", ConvID: first.ConvID})
		Expect(c.reply("d2").Error.Code).To(Equal(types.CodeNotFound))

		c.send(types.Command{Type: types.CmdHelp, ID: "h1"})
		Expect(c.reply("h1").Text).To(ContainSubstring("!reset"))
	})

	It("answers malformed frames with errors", func() {
		c := h.dial("alice")
		Expect(c.conn.WriteMessage(websocket.TextMessage, []byte("{nope"))).To(Succeed())
		Eventually(func() []types.Event { return c.all() }, waitTimeout).Should(ContainElement(
			HaveField("Error", HaveValue(HaveField("Code", types.CodeBadRequest)))))

		c.send(types.Command{Type: "dance", ID: "x"})
		Expect(c.reply("x").Error.Code).To(Equal(types.CodeBadRequest))

		c.send(types.Command{Type: types.CmdApprove, ID: "p", RoomID: "nowhere"})
		Expect(c.reply("p").Error.Code).To(Equal(types.CodeNotFound))
	})

	It("detaches a client when its connection closes", func() {
		h.backend.Push(provider.Text("hi"))
		c := h.dial("alice")
		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "hello"})
		c.await(types.EventResponse, c.reply("m1").ConvID)
		Expect(h.srv.ClientCount()).To(Equal(1))

		Expect(c.conn.Close()).To(Succeed())
		Eventually(h.srv.ClientCount, waitTimeout).Should(BeZero())
	})
})

var _ = Describe("Allowlist", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness("alice")
	})

	AfterEach(func() {
		h.close()
	})

	It("silently drops commands from other identities", func() {
		h.backend.Push(provider.Text("never"))
		mallory := h.dial("mallory")
		mallory.send(types.Command{Type: types.CmdHello, ID: "h1"})
		mallory.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "hi"})

		alice := h.dial("")
		alice.send(types.Command{Type: types.CmdSendMessage, ID: "m2", Sender: "mallory", RoomID: "room1", Text: "hi"})
		alice.send(types.Command{Type: types.CmdHello, ID: "h2", Sender: "alice"})
		Expect(alice.reply("h2").Type).To(Equal(types.EventAck))

		Consistently(mallory.all, 200*time.Millisecond).Should(BeEmpty())
		Expect(alice.all()).To(HaveLen(1))
		Expect(h.backend.Requests()).To(BeEmpty())
		Expect(h.reg.ListConversations("")).To(BeEmpty())

		dropped := h.tracer.find(trace.EventNotAllowed)
		Expect(dropped).To(HaveLen(3))
		Expect(dropped[0]["sender"]).To(Equal("mallory"))
	})

	It("guards REST endpoints with the identity header", func() {
		resp := h.get("/conversations", "")
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		var body server.ErrorResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.Error.Code).To(Equal(types.CodeNotAllowed))

		Expect(h.get("/conversations", "alice").StatusCode).To(Equal(http.StatusOK))
		Expect(h.get("/health", "").StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("REST and SSE observers", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	AfterEach(func() {
		h.close()
	})

	It("reports health, models and conversations", func() {
		var health server.HealthResponse
		Expect(json.NewDecoder(h.get("/health", "").Body).Decode(&health)).To(Succeed())
		Expect(health.Status).To(Equal("ok"))

		var models server.ModelsResponse
		Expect(json.NewDecoder(h.get("/models", "").Body).Decode(&models)).To(Succeed())
		Expect(models.Default).To(Equal("gpt-4o-mini"))
		Expect(models.Models).To(HaveLen(2))

		h.backend.Push(provider.Text("hi"))
		c := h.dial("alice")
		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "hello"})
		convID := c.reply("m1").ConvID
		c.await(types.EventResponse, convID)

		var convs []types.ConversationInfo
		Expect(json.NewDecoder(h.get("/conversations?room_id=room1", "").Body).Decode(&convs)).To(Succeed())
		Expect(convs).To(HaveLen(1))
		Expect(convs[0].ConvID).To(Equal(convID))

		var detail struct {
			ConvID   string          `json:"conv_id"`
			Messages []types.Message `json:"messages"`
		}
		Expect(json.NewDecoder(h.get("/conversations/"+convID, "").Body).Decode(&detail)).To(Succeed())
		Expect(detail.ConvID).To(Equal(convID))
		Expect(detail.Messages).To(HaveLen(2))

		missing := h.get("/conversations/nope", "")
		Expect(missing.StatusCode).To(Equal(http.StatusNotFound))
		var body server.ErrorResponse
		Expect(json.NewDecoder(missing.Body).Decode(&body)).To(Succeed())
		Expect(body.Error.Code).To(Equal(types.CodeNotFound))
	})

	It("streams conversation events over SSE", func() {
		resp := h.get("/events", "")
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

		lines := make(chan string, 256)
		go func() {
			defer GinkgoRecover()
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()
		Eventually(lines, waitTimeout).Should(Receive(Equal("event: connected")))

		h.backend.Push(provider.Text("streamed"))
		c := h.dial("alice")
		c.send(types.Command{Type: types.CmdSendMessage, ID: "m1", RoomID: "room1", Text: "hello"})
		convID := c.reply("m1").ConvID

		var ev types.Event
		Eventually(func() bool {
			for {
				select {
				case line, ok := <-lines:
					if !ok {
						return false
					}
					if data, found := strings.CutPrefix(line, "data: "); found {
						if json.Unmarshal([]byte(data), &ev) == nil && ev.Type == types.EventResponse {
							return true
						}
					}
				default:
					return false
				}
			}
		}, waitTimeout).Should(BeTrue())
		Expect(ev.ConvID).To(Equal(convID))
		Expect(ev.Text).To(Equal("streamed"))
	})
})
