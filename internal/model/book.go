package model

import "time"

// Category 表示图书分类。
type Category string

const (
	CategoryAdventure Category = "Adventure"
	CategoryClassics  Category = "Classics"
	CategoryCrime     Category = "Crime"
	CategoryFantasy   Category = "Fantasy"
)

// Book 表示一本图书记录。
//
// UserID 记录创建者，只能来自访问令牌，不接受请求体传入。
type Book struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	Title       string    `gorm:"type:varchar(255);not null;index" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Author      string    `gorm:"type:varchar(255);not null" json:"author"`
	Price       float64   `gorm:"not null" json:"price"`
	Category    Category  `gorm:"type:varchar(32);not null" json:"category"`
	UserID      string    `gorm:"type:char(36);index" json:"user"`
	Images      []Image   `gorm:"serializer:json;type:json" json:"images"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Image 是上传到对象存储的一张图片。
type Image struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Location string `json:"location"`
}
