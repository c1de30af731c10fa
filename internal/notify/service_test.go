package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/chat"
	"marketchat/internal/models"
)

type fakeNotificationStore struct {
	nextID     int64
	saved      []models.Notification
	failCreate error
}

func (f *fakeNotificationStore) CreateNotification(_ context.Context, n *models.Notification) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	f.nextID++
	n.ID = f.nextID
	f.saved = append(f.saved, *n)
	return nil
}

func (f *fakeNotificationStore) UnreadNotifications(_ context.Context, receiverID int64) ([]models.Notification, error) {
	var out []models.Notification
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].ReceiverID == receiverID && !f.saved[i].Read {
			out = append(out, f.saved[i])
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) CountUnreadNotifications(_ context.Context, receiverID int64) (int, error) {
	n := 0
	for _, s := range f.saved {
		if s.ReceiverID == receiverID && !s.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationStore) MarkAllNotificationsRead(_ context.Context, receiverID int64) error {
	for i := range f.saved {
		if f.saved[i].ReceiverID == receiverID {
			f.saved[i].Read = true
		}
	}
	return nil
}

type fakeUserStore struct {
	users   map[int64]*models.User
	cleared []int64
}

func (f *fakeUserStore) UserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (f *fakeUserStore) ClearPushToken(_ context.Context, userID int64) error {
	f.cleared = append(f.cleared, userID)
	if u, ok := f.users[userID]; ok {
		u.PushToken = nil
	}
	return nil
}

type fakeRoomStore struct {
	rooms map[int64]*models.Room
}

func (f *fakeRoomStore) RoomByID(_ context.Context, id int64) (*models.Room, error) {
	return f.rooms[id], nil
}

type fakePresence struct {
	active map[int64][]int64
}

func (f *fakePresence) ActiveUsers(roomID int64) []int64 {
	return f.active[roomID]
}

type fakeSender struct {
	frames map[int64][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[int64][][]byte)}
}

func (f *fakeSender) SendToUser(userID int64, data []byte) {
	f.frames[userID] = append(f.frames[userID], data)
}

type fakeGateway struct {
	pushes []string // tokens pushed to
	bodies []string
	err    error
}

func (f *fakeGateway) Push(_ context.Context, token, _, body string, _ map[string]string) error {
	f.pushes = append(f.pushes, token)
	f.bodies = append(f.bodies, body)
	return f.err
}

type fixture struct {
	svc      *Service
	store    *fakeNotificationStore
	users    *fakeUserStore
	presence *fakePresence
	sender   *fakeSender
	gateway  *fakeGateway
}

func newFixture() *fixture {
	token := "ExponentPushToken[abc]"
	store := &fakeNotificationStore{}
	users := &fakeUserStore{users: map[int64]*models.User{
		10: {ID: 10, Nickname: "owner", PushToken: &token},
		20: {ID: 20, Nickname: "requester"},
	}}
	rooms := &fakeRoomStore{rooms: map[int64]*models.Room{
		1: {ID: 1, OwnerID: 10, RequesterID: 20},
	}}
	presence := &fakePresence{active: make(map[int64][]int64)}
	sender := newFakeSender()
	gateway := &fakeGateway{}
	svc := NewService(store, users, rooms, presence, sender, gateway, time.UTC, time.Second)
	return &fixture{svc: svc, store: store, users: users, presence: presence, sender: sender, gateway: gateway}
}

func msgFrom(senderID int64, nickname, content, msgType string) *models.MessageView {
	return &models.MessageView{
		Message: models.Message{
			ID:       1,
			RoomID:   1,
			SenderID: senderID,
			Content:  content,
			Type:     msgType,
		},
		SenderNickname: nickname,
	}
}

func TestNotifyTargetsTheOtherParty(t *testing.T) {
	f := newFixture()

	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", "hello there", models.MessageTypeText), 20)
	require.NoError(t, err)

	require.Len(t, f.store.saved, 1)
	n := f.store.saved[0]
	assert.Equal(t, int64(10), n.ReceiverID)
	assert.Equal(t, int64(20), n.SenderID)
	assert.Equal(t, "hello there", n.Content)
	assert.Equal(t, models.NotificationTypeChat, n.Type)

	// Only the recipient's queue got a frame.
	require.Len(t, f.sender.frames[10], 1)
	assert.Empty(t, f.sender.frames[20])

	var frame chat.Frame
	require.NoError(t, json.Unmarshal(f.sender.frames[10][0], &frame))
	assert.Equal(t, chat.TypeNotificationNew, frame.Type)

	var push NotificationPush
	require.NoError(t, json.Unmarshal(frame.Payload, &push))
	assert.Equal(t, 1, push.UnreadCount)

	// The owner holds a token and is not present, so the push went out.
	assert.Equal(t, []string{"ExponentPushToken[abc]"}, f.gateway.pushes)
}

func TestNotifyOwnerToRequester(t *testing.T) {
	f := newFixture()

	err := f.svc.Notify(context.Background(), msgFrom(10, "owner", "still available?", models.MessageTypeText), 10)
	require.NoError(t, err)

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, int64(20), f.store.saved[0].ReceiverID)
	// The requester has no token; no external push attempted.
	assert.Empty(t, f.gateway.pushes)
}

func TestNotifyPresentRecipientSkipsExternalPush(t *testing.T) {
	f := newFixture()
	f.presence.active[1] = []int64{10, 20}

	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", "hello", models.MessageTypeText), 20)
	require.NoError(t, err)

	// The durable notification and the queue frame still land.
	assert.Len(t, f.store.saved, 1)
	assert.Len(t, f.sender.frames[10], 1)
	assert.Empty(t, f.gateway.pushes)
}

func TestNotifyStaleTokenClearedOnce(t *testing.T) {
	f := newFixture()
	f.gateway.err = ErrTokenNotRegistered

	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", "hello", models.MessageTypeText), 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, f.users.cleared)

	// The token is gone now, so the next message skips the gateway.
	err = f.svc.Notify(context.Background(), msgFrom(20, "requester", "again", models.MessageTypeText), 20)
	require.NoError(t, err)
	assert.Len(t, f.gateway.pushes, 1)
	assert.Len(t, f.store.saved, 2)
}

func TestNotifyUnclassifiedGatewayFailure(t *testing.T) {
	f := newFixture()
	f.gateway.err = errors.New("gateway 503")

	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", "hello", models.MessageTypeText), 20)
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	// The notification row survives the failed push.
	assert.Len(t, f.store.saved, 1)
	assert.Empty(t, f.users.cleared)
}

func TestNotifyUnknownRoomAbsorbed(t *testing.T) {
	f := newFixture()

	msg := msgFrom(20, "requester", "hello", models.MessageTypeText)
	msg.RoomID = 99
	err := f.svc.Notify(context.Background(), msg, 20)
	require.NoError(t, err)
	assert.Empty(t, f.store.saved)
}

func TestNotifyOutsiderSenderAbsorbed(t *testing.T) {
	f := newFixture()

	err := f.svc.Notify(context.Background(), msgFrom(30, "outsider", "hello", models.MessageTypeText), 30)
	require.NoError(t, err)
	assert.Empty(t, f.store.saved)
}

func TestNotifyPersistFailureSurfaces(t *testing.T) {
	f := newFixture()
	f.store.failCreate = errors.New("db down")

	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", "hello", models.MessageTypeText), 20)
	assert.Error(t, err)
	assert.Empty(t, f.sender.frames[10])
	assert.Empty(t, f.gateway.pushes)
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("가", 60)

	assert.Equal(t, "short", summarize("short", models.MessageTypeText))
	assert.Equal(t, "[image]", summarize("https://assets.marketchat.io/a.jpg", models.MessageTypeImage))
	assert.Equal(t, "system text", summarize("system text", models.MessageTypeSystem))

	got := summarize(long, models.MessageTypeText)
	assert.Equal(t, strings.Repeat("가", 50)+"…", got)
	assert.Equal(t, 51, len([]rune(got)))
}

func TestNotifyTruncatesPushBody(t *testing.T) {
	f := newFixture()

	long := strings.Repeat("a", 80)
	err := f.svc.Notify(context.Background(), msgFrom(20, "requester", long, models.MessageTypeText), 20)
	require.NoError(t, err)

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, strings.Repeat("a", 50)+"…", f.store.saved[0].Content)
	require.Len(t, f.gateway.bodies, 1)
	assert.Equal(t, strings.Repeat("a", 50)+"…", f.gateway.bodies[0])
}

func TestUnreadForUser(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.Notify(context.Background(), msgFrom(20, "requester", "one", models.MessageTypeText), 20))
	require.NoError(t, f.svc.Notify(context.Background(), msgFrom(20, "requester", "two", models.MessageTypeText), 20))

	list, err := f.svc.UnreadForUser(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Content)

	_, err = f.svc.UnreadForUser(context.Background(), 0)
	assert.ErrorIs(t, err, chat.ErrInvalidInput)
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.Notify(context.Background(), msgFrom(20, "requester", "one", models.MessageTypeText), 20))
	require.NoError(t, f.svc.MarkAllRead(context.Background(), 10))

	list, err := f.svc.UnreadForUser(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.svc.MarkAllRead(context.Background(), -1), chat.ErrInvalidInput)
}
