// Package model 定义了与数据库表对应的 Go 结构体及服务层 DTO。
package model

import "time"

// User 对应于数据库中的 users 表。
// Username 是经过认证的身份标识，同时作为 SKB 命名空间的隔离键。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(128);not null" json:"-"`
	Disabled  bool      `gorm:"not null;default:false" json:"disabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
