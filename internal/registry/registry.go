// Package registry 是服务端唯一的共享可变状态：房间、成员、锁与评论的
// 权威内存存储。所有跨连接的变更都经由它，并以房间为粒度原子执行。
// 注册表没有外部持久化，进程重启丢失全部房间状态——房间是临时协作
// 会话，不是系统的记录源。
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// InviteVerifier 校验邀请令牌并返回其中内嵌的角色。
// 由 service.InviteService 实现，注入以避免 registry 依赖签名细节。
type InviteVerifier interface {
	Verify(token string, roomID string) (domain.Role, error)
}

// Config 是注册表的注入配置。
type Config struct {
	// GracePeriod 是成员离线后其记录（含持有的锁）保留的宽限期，
	// 也是空房间被回收前的窗口。
	GracePeriod time.Duration
	// LockTTL 是资源锁的存活时间。
	LockTTL time.Duration
	// Verifier 校验邀请令牌，可为 nil（此时任何令牌都无效）。
	Verifier InviteVerifier
}

// Credentials 是加入房间时携带的凭证。
type Credentials struct {
	Password    string
	InviteToken string
}

// JoinResult 是成功加入后的结果。
type JoinResult struct {
	Member   domain.Member
	Role     domain.Role
	Snapshot domain.Snapshot
}

// SweepStats 记录一次 sweep 的清理量，用于日志。
type SweepStats struct {
	MembersPurged int
	LocksExpired  int
	RoomsRemoved  int
}

// room 是单个房间的内部表示。mu 保护其全部可变字段，
// 任何 join/leave/lock/role/comment 操作都在持锁状态下完成。
type room struct {
	mu         sync.Mutex
	meta       domain.Room
	members    map[string]*domain.Member
	locks      map[string]domain.Lock
	comments   map[string]*domain.Comment
	emptySince time.Time
}

// Registry 按配置构造一次，引用传递给各连接处理器。
// 没有包级可变状态。
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	cfg   Config

	// now 可注入，便于测试 TTL 与宽限期。
	now func() time.Time

	log *logrus.Entry
}

// New 创建一个 Registry 实例。
func New(cfg Config) *Registry {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 60 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Registry{
		rooms: make(map[string]*room),
		cfg:   cfg,
		now:   time.Now,
		log:   logrus.WithField("component", "registry"),
	}
}

// CreateRoom 通过管理 API 预创建房间。id 为空时生成 uuid。
// password 非空时只保存 bcrypt 哈希。
func (r *Registry) CreateRoom(id string, password string, inviteRequired bool) (domain.Room, error) {
	if id == "" {
		id = uuid.NewString()
	}

	meta := domain.Room{
		ID:             id,
		InviteRequired: inviteRequired,
		CreatedAt:      r.now(),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return domain.Room{}, err
		}
		meta.PasswordHash = string(hash)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[id]; exists {
		return domain.Room{}, ErrRoomExists
	}
	r.rooms[id] = &room{
		meta:       meta,
		members:    make(map[string]*domain.Member),
		locks:      make(map[string]domain.Lock),
		comments:   make(map[string]*domain.Comment),
		emptySince: meta.CreatedAt,
	}
	r.log.WithField("room_id", id).Info("Room created")
	return meta, nil
}

// getOrCreate 返回房间，不存在时按 create-on-first-join 规则创建。
func (r *Registry) getOrCreate(roomID string) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[roomID]; ok {
		return rm
	}
	now := r.now()
	rm = &room{
		meta:       domain.Room{ID: roomID, CreatedAt: now},
		members:    make(map[string]*domain.Member),
		locks:      make(map[string]domain.Lock),
		comments:   make(map[string]*domain.Comment),
		emptySince: now,
	}
	r.rooms[roomID] = rm
	r.log.WithField("room_id", roomID).Info("Room created on first join")
	return rm
}

// get 返回已存在的房间。
func (r *Registry) get(roomID string) (*room, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// Join 处理加入请求。校验顺序：房间存在性（不存在则创建）→ 密码 →
// 邀请令牌 → 角色分配（创建者为 owner，其余取邀请内嵌角色，默认 editor）。
// 同一 userId 重复加入会替换旧条目而不是产生重复成员；重连的成员
// 保留原有角色与持有的锁。
func (r *Registry) Join(roomID string, user domain.User, creds Credentials) (JoinResult, error) {
	logCtx := r.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": user.ID})

	rm := r.getOrCreate(roomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	// 密码校验
	if rm.meta.HasPassword() {
		if err := bcrypt.CompareHashAndPassword([]byte(rm.meta.PasswordHash), []byte(creds.Password)); err != nil {
			logCtx.Warn("Join rejected: incorrect password")
			return JoinResult{}, ErrBadPassword
		}
	}

	existing, rejoin := rm.members[user.ID]

	// 邀请令牌校验。令牌中内嵌的角色优先于默认角色。
	// 首位加入者（将成为房主）、创建者与宽限期内重连的成员免令牌，
	// 否则仅邀请可入的预建房间没有任何人能签出第一张邀请。
	exempt := rejoin || rm.meta.CreatorID == user.ID ||
		(rm.meta.CreatorID == "" && len(rm.members) == 0)
	var inviteRole domain.Role
	if creds.InviteToken != "" {
		if r.cfg.Verifier == nil {
			logCtx.Warn("Join rejected: invite token supplied but no verifier configured")
			return JoinResult{}, ErrInviteInvalid
		}
		role, err := r.cfg.Verifier.Verify(creds.InviteToken, roomID)
		if err != nil {
			logCtx.WithError(err).Warn("Join rejected: invalid invite token")
			return JoinResult{}, ErrInviteInvalid
		}
		inviteRole = role
	} else if rm.meta.InviteRequired && !exempt {
		logCtx.Warn("Join rejected: invite token required")
		return JoinResult{}, ErrInviteRequired
	}

	now := r.now()

	var member *domain.Member
	if rejoin {
		// 幂等重入：覆盖旧条目，保留角色与加入时间。
		existing.Name = user.Name
		existing.Online = true
		existing.LastSeen = now
		member = existing
		logCtx.WithField("role", member.Role).Info("Member rejoined room")
	} else {
		role := domain.RoleEditor
		switch {
		case rm.meta.CreatorID == "" && len(rm.members) == 0:
			// 首位加入者成为房主。
			role = domain.RoleOwner
			rm.meta.CreatorID = user.ID
		case rm.meta.CreatorID == user.ID:
			role = domain.RoleOwner
		case inviteRole != "":
			role = inviteRole
		}
		member = &domain.Member{
			ID:       user.ID,
			Name:     user.Name,
			Color:    domain.ColorFor(user.ID),
			Role:     role,
			Online:   true,
			JoinedAt: now,
			LastSeen: now,
		}
		rm.members[user.ID] = member
		rm.emptySince = time.Time{}
		logCtx.WithField("role", role).Info("Member joined room")
	}

	return JoinResult{
		Member:   *member,
		Role:     member.Role,
		Snapshot: rm.snapshotLocked(now),
	}, nil
}

// Leave 将成员标记为离线。explicit 表示客户端主动 leave-room：
// 此时立即释放其持有的全部锁；传输层超时掉线则把锁留到宽限期，
// 让快速重连的成员原样拿回。成员记录本身由 Sweep 在宽限期后清除。
func (r *Registry) Leave(roomID, userID string, explicit bool) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	member, ok := rm.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	member.Online = false
	member.LastSeen = r.now()

	released := 0
	if explicit {
		for res, lock := range rm.locks {
			if lock.OwnerID == userID {
				delete(rm.locks, res)
				released++
			}
		}
	}
	r.log.WithFields(logrus.Fields{
		"room_id":        roomID,
		"user_id":        userID,
		"explicit":       explicit,
		"locks_released": released,
	}).Info("Member left room")
	return nil
}

// Touch 刷新成员的 LastSeen，由协议层心跳触发。
func (r *Registry) Touch(roomID, userID string) {
	rm, err := r.get(roomID)
	if err != nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if member, ok := rm.members[userID]; ok {
		member.LastSeen = r.now()
	}
}

// CheckEditable 校验成员是否存在且角色允许内容变更。
// Hub 在广播 content-change 前调用；viewer 的命令在服务端被拒绝。
func (r *Registry) CheckEditable(roomID, userID string) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	member, ok := rm.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	if !member.Role.CanEdit() {
		return ErrRoleDenied
	}
	return nil
}

// ChangeRole 修改目标成员角色，仅房主可用。校验失败不改变任何状态。
func (r *Registry) ChangeRole(roomID, requesterID, targetID string, role domain.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	requester, ok := rm.members[requesterID]
	if !ok {
		return ErrMemberNotFound
	}
	if requester.Role != domain.RoleOwner {
		return ErrRoleDenied
	}
	target, ok := rm.members[targetID]
	if !ok {
		return ErrMemberNotFound
	}
	target.Role = role
	r.log.WithFields(logrus.Fields{
		"room_id":   roomID,
		"user_id":   targetID,
		"role":      role,
		"issued_by": requesterID,
	}).Info("Member role changed")
	return nil
}

// SetPassword 设置或清除房间密码（password 为空即清除），仅房主可用。
func (r *Registry) SetPassword(roomID, requesterID, password string) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := rm.requireOwnerLocked(requesterID); err != nil {
		return err
	}
	if password == "" {
		rm.meta.PasswordHash = ""
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	rm.meta.PasswordHash = string(hash)
	return nil
}

// SetInviteRequired 开关"仅邀请可入"标记，仅房主可用。
func (r *Registry) SetInviteRequired(roomID, requesterID string, required bool) error {
	rm, err := r.get(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := rm.requireOwnerLocked(requesterID); err != nil {
		return err
	}
	rm.meta.InviteRequired = required
	return nil
}

// MemberRole 返回成员当前角色，供 HTTP 层做 owner-only 校验。
func (r *Registry) MemberRole(roomID, userID string) (domain.Role, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return "", err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	member, ok := rm.members[userID]
	if !ok {
		return "", ErrMemberNotFound
	}
	return member.Role, nil
}

// Metadata 返回房间的公开元信息。
func (r *Registry) Metadata(roomID string) (domain.RoomMetadata, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.RoomMetadata{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return domain.RoomMetadata{
		RoomID:           rm.meta.ID,
		MemberCount:      len(rm.members),
		PasswordRequired: rm.meta.HasPassword(),
		InviteRequired:   rm.meta.InviteRequired,
	}, nil
}

// Snapshot 返回房间当前完整状态。
func (r *Registry) Snapshot(roomID string) (domain.Snapshot, error) {
	rm, err := r.get(roomID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshotLocked(r.now()), nil
}

// snapshotLocked 在持有房间锁的前提下构造快照，已过期的锁被剔除。
func (rm *room) snapshotLocked(now time.Time) domain.Snapshot {
	snap := domain.Snapshot{
		Members:  make([]domain.Member, 0, len(rm.members)),
		Locks:    make([]domain.Lock, 0, len(rm.locks)),
		Comments: make([]domain.Comment, 0, len(rm.comments)),
	}
	for _, m := range rm.members {
		snap.Members = append(snap.Members, *m)
	}
	for _, l := range rm.locks {
		if !l.Expired(now) {
			snap.Locks = append(snap.Locks, l)
		}
	}
	for _, c := range rm.comments {
		snap.Comments = append(snap.Comments, *c)
	}
	// 稳定顺序，避免快照在对端呈现抖动。
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].ID < snap.Members[j].ID })
	sort.Slice(snap.Locks, func(i, j int) bool { return snap.Locks[i].ResourceID < snap.Locks[j].ResourceID })
	sort.Slice(snap.Comments, func(i, j int) bool { return snap.Comments[i].CreatedAt.Before(snap.Comments[j].CreatedAt) })
	return snap
}

// requireOwnerLocked 校验请求者是在线成员且为房主。
func (rm *room) requireOwnerLocked(userID string) error {
	member, ok := rm.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	if member.Role != domain.RoleOwner {
		return ErrRoleDenied
	}
	return nil
}

// Sweep 是唯一的垃圾回收路径，按固定周期由后台任务触发：
// 清除超过宽限期的离线成员（连带释放其锁）、过期的锁、
// 以及空置超过宽限期的房间。
func (r *Registry) Sweep(now time.Time) SweepStats {
	var stats SweepStats

	r.mu.RLock()
	roomList := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		roomList = append(roomList, rm)
	}
	r.mu.RUnlock()

	for _, rm := range roomList {
		rm.mu.Lock()
		for id, member := range rm.members {
			if !member.Online && now.Sub(member.LastSeen) > r.cfg.GracePeriod {
				delete(rm.members, id)
				stats.MembersPurged++
				for res, lock := range rm.locks {
					if lock.OwnerID == id {
						delete(rm.locks, res)
						stats.LocksExpired++
					}
				}
			}
		}
		for res, lock := range rm.locks {
			if lock.Expired(now) {
				delete(rm.locks, res)
				stats.LocksExpired++
			}
		}
		if len(rm.members) == 0 && rm.emptySince.IsZero() {
			rm.emptySince = now
		}
		rm.mu.Unlock()
	}

	// 第二趟：移除空置超窗的房间。持注册表写锁时重新确认条件，
	// 避免与并发 Join 竞争。
	r.mu.Lock()
	for id, rm := range r.rooms {
		rm.mu.Lock()
		empty := len(rm.members) == 0 && !rm.emptySince.IsZero() && now.Sub(rm.emptySince) > r.cfg.GracePeriod
		rm.mu.Unlock()
		if empty {
			delete(r.rooms, id)
			stats.RoomsRemoved++
		}
	}
	r.mu.Unlock()

	if stats.MembersPurged > 0 || stats.LocksExpired > 0 || stats.RoomsRemoved > 0 {
		r.log.WithFields(logrus.Fields{
			"members_purged": stats.MembersPurged,
			"locks_expired":  stats.LocksExpired,
			"rooms_removed":  stats.RoomsRemoved,
		}).Info("Sweep completed")
	}
	return stats
}

// RoomCount 返回当前房间数，供健康检查与测试使用。
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// IsRoomNotFound 是便捷判断。
func IsRoomNotFound(err error) bool { return errors.Is(err, ErrRoomNotFound) }
