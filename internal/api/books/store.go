package books

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookstore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBookNotFound 指定 id 的图书不存在。
var ErrBookNotFound = errors.New("book not found")

// sortColumns 是允许排序的字段（查询参数名 -> 列名）。
var sortColumns = map[string]string{
	"title":     "title",
	"author":    "author",
	"price":     "price",
	"category":  "category",
	"createdAt": "created_at",
}

// maxPage 限制分页深度，保证偏移量不溢出。
const maxPage = 100000

// updatableColumns 是 Update 允许写入的列。
var updatableColumns = []string{"title", "description", "author", "price", "category", "images", "updated_at"}

// ListQuery 是图书列表的过滤、分页与排序条件。
type ListQuery struct {
	Search    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// BookStore 是图书存储。
type BookStore interface {
	Create(ctx context.Context, book *model.Book) error
	List(ctx context.Context, q ListQuery) ([]model.Book, error)
	FindByID(ctx context.Context, id string) (*model.Book, error)
	// Update 在行锁内读取图书并执行 apply，然后写回。
	Update(ctx context.Context, id string, apply func(*model.Book)) (*model.Book, error)
	Delete(ctx context.Context, id string) error
}

type dbBookStore struct {
	db *gorm.DB
}

// NewBookStore 基于 gorm 创建 BookStore。
func NewBookStore(db *gorm.DB) BookStore {
	return dbBookStore{db: db}
}

func (s dbBookStore) Create(ctx context.Context, book *model.Book) error {
	if book.Images == nil {
		book.Images = []model.Image{}
	}
	if err := s.db.WithContext(ctx).Create(book).Error; err != nil {
		return fmt.Errorf("create book: %w", err)
	}
	return nil
}

func (s dbBookStore) List(ctx context.Context, q ListQuery) ([]model.Book, error) {
	tx := s.db.WithContext(ctx).Model(&model.Book{})
	if search := strings.TrimSpace(q.Search); search != "" {
		tx = tx.Where("LOWER(title) LIKE ?", "%"+escapeLike(strings.ToLower(search))+"%")
	}

	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = "created_at"
	}
	desc := strings.EqualFold(q.SortOrder, "desc")
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	books := make([]model.Book, 0, limit)
	if err := tx.Offset((page - 1) * limit).Limit(limit).Find(&books).Error; err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s dbBookStore) FindByID(ctx context.Context, id string) (*model.Book, error) {
	var book model.Book
	err := s.db.WithContext(ctx).First(&book, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	return &book, nil
}

func (s dbBookStore) Update(ctx context.Context, id string, apply func(*model.Book)) (*model.Book, error) {
	var book model.Book
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("lock book: %w", err)
		}

		apply(&book)
		if book.Images == nil {
			book.Images = []model.Image{}
		}
		if err := tx.Model(&book).Select(updatableColumns).Updates(&book).Error; err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (s dbBookStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Book{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete book: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBookNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
