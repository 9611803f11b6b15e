package lobby

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/engine"
)

// published is what the directory is believed to hold for our advertisement.
type published struct {
	name    string
	private bool
	data    map[string]string
}

type advertRequest struct {
	id   string
	opts directory.UpdateOptions
	next published
}

// advertSync is the host's side of the directory advertisement. At most one
// create and one update are in flight at a time.
type advertSync struct {
	id       string
	creating bool
	updating bool
	again    bool  // another refresh was asked for while updating
	revert   *bool // visibility to restore if the next privacy update fails
	beating  bool
	pub      published

	heartbeat *time.Ticker
	refresh   *time.Ticker
}

func (a *advertSync) heartbeatC() <-chan time.Time {
	if a.heartbeat == nil {
		return nil
	}
	return a.heartbeat.C
}

func (a *advertSync) refreshC() <-chan time.Time {
	if a.refresh == nil {
		return nil
	}
	return a.refresh.C
}

func (a *advertSync) stop() {
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	if a.refresh != nil {
		a.refresh.Stop()
	}
}

func advertName(host string) string { return host + "'s Game" }

// desiredAdvert is what the advertisement should say right now. A session in
// progress is never listed, whatever the visibility flag says.
func (l *Lobby) desiredAdvert() published {
	return published{
		name:    advertName(l.hostName),
		private: !l.state.Public || l.state.InSession,
		data: map[string]string{
			directory.KeyJoinCode:       l.code,
			directory.KeyHostName:       l.hostName,
			directory.KeyCurrentPlayers: strconv.Itoa(len(l.conns)),
			directory.KeyMaxPlayers:     strconv.Itoa(l.cfg.MaxPlayers),
		},
	}
}

func diffAdvert(have, want published) directory.UpdateOptions {
	var opts directory.UpdateOptions
	if want.name != have.name {
		opts.Name = &want.name
	}
	if want.private != have.private {
		opts.Private = &want.private
	}
	for k, v := range want.data {
		if cur, ok := have.data[k]; ok && cur == v {
			continue
		}
		if opts.Data == nil {
			opts.Data = make(map[string]directory.Field)
		}
		opts.Data[k] = directory.Public(v)
	}
	return opts
}

func publishedFrom(ad directory.Advertisement) published {
	p := published{name: ad.Name, private: ad.Private, data: make(map[string]string, len(ad.Data))}
	for k, f := range ad.Data {
		p.data[k] = f.Value
	}
	return p
}

func (l *Lobby) createAdvert() {
	if l.dir == nil || l.advert.id != "" || l.advert.creating {
		return
	}
	l.advert.creating = true

	want := l.desiredAdvert()
	data := make(map[string]directory.Field, len(want.data))
	for k, v := range want.data {
		data[k] = directory.Public(v)
	}
	maxPlayers := l.cfg.MaxPlayers

	// Only one create ever runs, so the send never blocks.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), l.cfg.DirectoryTimeout)
		defer cancel()
		ad, err := l.dir.Create(ctx, want.name, maxPlayers, directory.CreateOptions{Private: want.private, Data: data})
		l.created <- advertCreated{ad: ad, err: err}
	}()
}

func (l *Lobby) advertCreated(msg advertCreated) {
	l.advert.creating = false
	if l.life != LifecycleActive {
		if msg.err == nil {
			l.deleteOrphan(msg.ad.ID)
		}
		return
	}
	if msg.err != nil {
		// The session carries on, just without being discoverable.
		l.rec.AdvertOp("create", "error")
		l.log.Warn("advertisement create failed", zap.Error(msg.err))
		return
	}

	l.rec.AdvertOp("create", "ok")
	l.advert.id = msg.ad.ID
	l.advert.pub = publishedFrom(msg.ad)
	l.advert.heartbeat = time.NewTicker(l.cfg.HeartbeatInterval)
	l.advert.refresh = time.NewTicker(l.cfg.RefreshInterval)
	l.log.Info("advertisement created", zap.String("advert", msg.ad.ID), zap.String("name", msg.ad.Name))

	// Catch up with anything that changed while the create was in flight.
	l.refreshAdvert(nil)
}

// refreshAdvert sends only the fields that changed, and nothing at all when
// none did. revert is the visibility to fall back to if the privacy change
// this refresh carries is refused.
func (l *Lobby) refreshAdvert(revert *bool) {
	if l.dir == nil {
		return
	}
	if revert != nil {
		l.advert.revert = revert
	}
	// A create still in flight catches up once it lands.
	if l.advert.id == "" {
		return
	}
	if l.advert.updating {
		l.advert.again = true
		return
	}

	want := l.desiredAdvert()
	opts := diffAdvert(l.advert.pub, want)
	revert, l.advert.revert = l.advert.revert, nil
	if opts.Empty() {
		return
	}
	if opts.Private == nil {
		revert = nil
	}

	l.advert.updating = true
	req := advertRequest{id: l.advert.id, opts: opts, next: want}
	l.async(func(ctx context.Context) Msg {
		_, err := l.dir.Update(ctx, req.id, req.opts)
		return advertUpdated{req: req, err: err, revert: revert}
	})
}

func (l *Lobby) advertUpdated(msg advertUpdated) {
	l.advert.updating = false
	if l.life != LifecycleActive || msg.req.id != l.advert.id {
		return
	}

	if msg.err != nil {
		l.rec.AdvertOp("update", "error")
		l.log.Warn("advertisement update failed", zap.String("advert", msg.req.id), zap.Error(msg.err))
		if msg.revert != nil && l.state.Public != *msg.revert {
			l.apply(engine.Command{Type: engine.CmdSetVisibility, Sender: engine.HostID, Public: *msg.revert}, "revert_visibility")
			l.log.Warn("visibility reverted", zap.Bool("public", *msg.revert))
		}
		if errors.Is(msg.err, directory.ErrNotFound) {
			l.loseAdvert()
			return
		}
	} else {
		l.rec.AdvertOp("update", "ok")
		l.advert.pub = msg.req.next
	}

	if l.advert.again {
		l.advert.again = false
		l.refreshAdvert(nil)
	}
}

func (l *Lobby) sendHeartbeat() {
	if l.dir == nil || l.advert.id == "" || l.advert.beating {
		return
	}
	l.advert.beating = true
	id := l.advert.id
	l.async(func(ctx context.Context) Msg {
		return advertHeartbeat{id: id, err: l.dir.Heartbeat(ctx, id)}
	})
}

func (l *Lobby) advertHeartbeat(msg advertHeartbeat) {
	l.advert.beating = false
	if l.life != LifecycleActive || msg.id != l.advert.id {
		return
	}
	if msg.err != nil {
		l.rec.AdvertOp("heartbeat", "error")
		l.log.Warn("advertisement heartbeat failed, lobby is no longer discoverable", zap.String("advert", msg.id), zap.Error(msg.err))
		l.loseAdvert()
		return
	}
	l.rec.AdvertOp("heartbeat", "ok")
}

// loseAdvert forgets the advertisement. It is not re-created.
func (l *Lobby) loseAdvert() {
	l.advert.stop()
	l.advert = advertSync{}
	l.rec.AdvertLost()
}

// deleteAdvert removes the advertisement on teardown. A create still in
// flight is waited for so its record does not outlive the lobby. A record
// that already expired is not an error.
func (l *Lobby) deleteAdvert() error {
	l.advert.stop()
	id := l.advert.id
	if l.advert.creating {
		select {
		case c := <-l.created:
			if c.err == nil {
				id = c.ad.ID
			}
		case <-time.After(2 * l.cfg.DirectoryTimeout):
			l.log.Warn("advertisement create did not finish before teardown")
		}
	}
	l.advert = advertSync{}
	if l.dir == nil || id == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), l.cfg.DirectoryTimeout)
	defer cancel()
	err := l.dir.Delete(ctx, id)
	switch {
	case err == nil, errors.Is(err, directory.ErrNotFound):
		l.rec.AdvertOp("delete", "ok")
		return nil
	default:
		l.rec.AdvertOp("delete", "error")
		return fmt.Errorf("delete advertisement %s: %w", id, err)
	}
}

func (l *Lobby) deleteOrphan(id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), l.cfg.DirectoryTimeout)
	defer cancel()
	if err := l.dir.Delete(ctx, id); err != nil && !errors.Is(err, directory.ErrNotFound) {
		l.log.Warn("orphaned advertisement not deleted", zap.String("advert", id), zap.Error(err))
	}
}

// async runs a directory call off the coordinator goroutine and posts its
// result back. In-flight calls are not cancelled by teardown; results that
// arrive after it are dropped.
func (l *Lobby) async(call func(ctx context.Context) Msg) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), l.cfg.DirectoryTimeout)
		defer cancel()
		l.post(call(ctx))
	}()
}
