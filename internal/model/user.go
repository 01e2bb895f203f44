package model

import "time"

// Role 表示用户角色。角色之间没有层级关系，每个路由显式声明允许的角色集合。
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// AllRoles 返回全部合法角色。
func AllRoles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin}
}

// Valid 判断角色是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// User 表示系统用户。
type User struct {
	ID        string    `gorm:"type:char(36);primaryKey"`                // 用户 ID（UUID）
	Name      string    `gorm:"type:varchar(191);not null"`              // 用户名
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（小写存储，唯一）
	Password  string    `gorm:"not null"`                                // bcrypt 哈希
	Roles     []Role    `gorm:"serializer:json;type:json"`               // 角色列表
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间
}

// HasAnyRole 判断用户是否拥有 allowed 中的任一角色。
func HasAnyRole(roles []Role, allowed []Role) bool {
	for _, r := range roles {
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}
