package service

import "errors"

// 服务层业务错误。HTTP Handler 通过 errors.Is 将其映射为状态码。
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomExists     = errors.New("room already exists")
	ErrNotRoomOwner   = errors.New("only the room owner may perform this operation")
	ErrInvalidRole    = errors.New("invalid role")
	ErrInvalidInvite  = errors.New("invalid or expired invite token")
	ErrInternalServer = errors.New("internal server error")
)
