package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wa-scheduler/internal/domain"
)

type fakeClient struct {
	loggedIn    bool
	groups      []*types.GroupInfo
	groupCalls  int
	uploads     []whatsmeow.MediaType
	sent        []*waE2E.Message
	sentTo      []types.JID
	pollOptions []string
	selectable  int
	sendErr     error
}

func (f *fakeClient) IsConnected() bool { return f.loggedIn }
func (f *fakeClient) IsLoggedIn() bool  { return f.loggedIn }

func (f *fakeClient) GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	f.groupCalls++
	return f.groups, nil
}

func (f *fakeClient) Upload(ctx context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.uploads = append(f.uploads, mt)
	return whatsmeow.UploadResponse{URL: "https://mmg/x", DirectPath: "/x", FileLength: uint64(len(data))}, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.sentTo = append(f.sentTo, to)
	return whatsmeow.SendResponse{ID: "MSG1"}, nil
}

func (f *fakeClient) BuildPollCreation(name string, options []string, selectable int) *waE2E.Message {
	f.pollOptions = options
	f.selectable = selectable
	return &waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{Name: proto.String(name)}}
}

func group(name, user string) *types.GroupInfo {
	info := &types.GroupInfo{JID: types.NewJID(user, types.GroupServer)}
	info.Name = name
	return info
}

func newTestSender(client *fakeClient) *Sender {
	s := NewSender(client, SenderConfig{GroupsTTL: time.Minute}, zerolog.Nop())
	s.readFile = func(string) ([]byte, error) { return []byte("\xff\xd8\xff\xe0 jpeg"), nil }
	return s
}

func TestSendText(t *testing.T) {
	client := &fakeClient{loggedIn: true, groups: []*types.GroupInfo{group("Team A", "123")}}
	s := newTestSender(client)
	err := s.Send(context.Background(), domain.Entry{Kind: domain.KindMessage, RecipientGroup: " team a ", Text: "hi"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].GetConversation() != "hi" {
		t.Fatalf("unexpected message %+v", client.sent)
	}
	if client.sentTo[0].User != "123" {
		t.Fatalf("unexpected jid %s", client.sentTo[0])
	}
}

func TestSendResolvesGroupsWithCache(t *testing.T) {
	client := &fakeClient{loggedIn: true, groups: []*types.GroupInfo{group("A", "1")}}
	s := newTestSender(client)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	e := domain.Entry{Kind: domain.KindMessage, RecipientGroup: "A", Text: "x"}

	_ = s.Send(ctx, e)
	_ = s.Send(ctx, e)
	if client.groupCalls != 1 {
		t.Fatalf("ожидали один запрос групп, got %d", client.groupCalls)
	}

	err := s.Send(ctx, domain.Entry{Kind: domain.KindMessage, RecipientGroup: "Missing", Text: "x"})
	if !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	if client.groupCalls != 2 {
		t.Fatalf("промах должен перечитать группы, got %d", client.groupCalls)
	}

	now = now.Add(2 * time.Minute)
	_ = s.Send(ctx, e)
	if client.groupCalls != 3 {
		t.Fatalf("устаревший кеш должен обновиться, got %d", client.groupCalls)
	}
}

func TestSendDirectJID(t *testing.T) {
	client := &fakeClient{loggedIn: true}
	s := newTestSender(client)
	err := s.Send(context.Background(), domain.Entry{Kind: domain.KindMessage, RecipientGroup: "999@g.us", Text: "x"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if client.groupCalls != 0 || client.sentTo[0].User != "999" {
		t.Fatalf("JID должен использоваться без запроса групп")
	}
}

func TestSendMediaAndPoll(t *testing.T) {
	client := &fakeClient{loggedIn: true, groups: []*types.GroupInfo{group("A", "1")}}
	s := newTestSender(client)
	ctx := context.Background()

	if err := s.Send(ctx, domain.Entry{Kind: domain.KindImage, RecipientGroup: "A", MediaPath: "/tmp/a.jpg", Caption: "cap"}); err != nil {
		t.Fatalf("image: %v", err)
	}
	img := client.sent[0].GetImageMessage()
	if img == nil || img.GetCaption() != "cap" || img.GetMimetype() != "image/jpeg" {
		t.Fatalf("unexpected image message %+v", client.sent[0])
	}

	if err := s.Send(ctx, domain.Entry{Kind: domain.KindVideo, RecipientGroup: "A", MediaPath: "/tmp/a.mp4"}); err != nil {
		t.Fatalf("video: %v", err)
	}
	if client.sent[1].GetVideoMessage() == nil || client.uploads[1] != whatsmeow.MediaVideo {
		t.Fatalf("ожидали видео")
	}

	poll := domain.Entry{Kind: domain.KindPoll, RecipientGroup: "A", Question: "q", Options: []string{"a", "b", "a"}}
	if err := s.Send(ctx, poll); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(client.pollOptions) != 2 || client.selectable != 1 {
		t.Fatalf("unexpected poll %v / %d", client.pollOptions, client.selectable)
	}
	poll.AllowMultiple = true
	_ = s.Send(ctx, poll)
	if client.selectable != 0 {
		t.Fatalf("множественный выбор должен давать 0, got %d", client.selectable)
	}
}

func TestSendErrors(t *testing.T) {
	s := newTestSender(&fakeClient{})
	if err := s.Send(context.Background(), domain.Entry{Kind: domain.KindMessage, RecipientGroup: "A", Text: "x"}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}

	boom := errors.New("boom")
	client := &fakeClient{loggedIn: true, groups: []*types.GroupInfo{group("A", "1")}, sendErr: boom}
	s = newTestSender(client)
	if err := s.Send(context.Background(), domain.Entry{Kind: domain.KindMessage, RecipientGroup: "A", Text: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
