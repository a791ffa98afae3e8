package trackersvc

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/trackerclient"
	"github.com/filemesh/filemesh/internal/trackerstate"
	"github.com/filemesh/filemesh/internal/wire"
)

func newTestServer(t *testing.T) (*trackerclient.Client, func()) {
	t.Helper()
	registry := trackerstate.New(zap.NewNop(), trackerstate.NewSnapshotStore(zap.NewNop(), t.TempDir()+"/snap.json", ""), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(ln, zap.NewNop(), registry, nil, nil, nil)
	go srv.Serve()

	client := trackerclient.New(ln.Addr().String())
	return client, func() { ln.Close() }
}

func TestRegisterLoginAnnounceListEndToEnd(t *testing.T) {
	client, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if resp, err := client.Register(ctx, "u1", "pw"); err != nil || !resp.Status {
		t.Fatalf("register: %v %+v", err, resp)
	}
	if resp, err := client.Login(ctx, "u1", "pw", 5000); err != nil || !resp.Status {
		t.Fatalf("login: %v %+v", err, resp)
	}
	announceResp, err := client.Announce(ctx, "u1", 5000, []wire.AnnouncedFile{
		{Filename: "doc.bin", Size: 3 * 1024 * 1024, FileHash: "H", ChunkHashes: []string{"h0", "h1", "h2"}},
	})
	if err != nil || !announceResp.Status {
		t.Fatalf("announce: %v %+v", err, announceResp)
	}

	listResp, err := client.ListFiles(ctx)
	if err != nil || !listResp.Status {
		t.Fatalf("list_files: %v %+v", err, listResp)
	}
	if len(listResp.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(listResp.Files))
	}
	f := listResp.Files[0]
	if f.Filename != "doc.bin" || f.Size != 3*1024*1024 || f.FileHash != "H" {
		t.Fatalf("unexpected file listing: %+v", f)
	}
	if len(f.Peers) != 1 || f.Peers[0].Tier != "bronze" {
		t.Fatalf("unexpected peers: %+v", f.Peers)
	}
}

func TestModeratorOnlyRoomDeleteEndToEnd(t *testing.T) {
	client, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client.Register(ctx, "u1", "pw")
	client.Register(ctx, "u2", "pw")
	client.Login(ctx, "u1", "pw", 6001)
	client.Login(ctx, "u2", "pw", 6002)

	if resp, err := client.CreateRoom(ctx, "u1", 6001, "R"); err != nil || !resp.Status {
		t.Fatalf("create_room: %v %+v", err, resp)
	}

	if resp, err := client.DeleteRoom(ctx, "u2", "R"); err != nil || resp.Status {
		t.Fatalf("expected delete_room to fail for non-moderator, got %v %+v", err, resp)
	}

	if resp, err := client.DeleteRoom(ctx, "u1", "R"); err != nil || !resp.Status {
		t.Fatalf("delete_room: %v %+v", err, resp)
	}

	roomsResp, err := client.ListRooms(ctx)
	if err != nil || !roomsResp.Status {
		t.Fatalf("list_rooms: %v %+v", err, roomsResp)
	}
	for _, r := range roomsResp.Rooms {
		if r.RoomName == "R" {
			t.Fatal("room R should no longer be listed")
		}
	}
}

func TestGetScoresOnEmptyRegistry(t *testing.T) {
	client, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := client.GetScores(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Status {
		t.Fatalf("get_scores on empty registry should succeed with empty list, got %+v", resp)
	}
}
