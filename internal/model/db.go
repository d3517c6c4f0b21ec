package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Client 客户维度（code 来自源系统，只追加不修改）
type Client struct {
	Code     string  `gorm:"column:code;type:varchar(64);primaryKey;comment:客户编码"`
	Name     string  `gorm:"column:name;type:varchar(256);not null;comment:客户名称"`
	HeadName string  `gorm:"column:head_name;type:varchar(256);comment:上级单位名称"`
	Region   *string `gorm:"column:region;type:varchar(128);index;comment:区域，关联regions.region，待人工复核时为空"`
	Type     string  `gorm:"column:type;type:varchar(64);comment:法人/自然人"`
}

// Product 商品维度
type Product struct {
	Code        string  `gorm:"column:code;type:varchar(64);primaryKey;comment:商品编码"`
	Name        string  `gorm:"column:name;type:varchar(256);not null;comment:商品名称"`
	VendorCode  string  `gorm:"column:vendor_code;type:varchar(128);comment:货号"`
	CodeAP      string  `gorm:"column:code_ap;type:varchar(64);default:'0';comment:辅助编码，新商品为0"`
	Type        string  `gorm:"column:type;type:varchar(128);comment:商品类别"`
	Unit        string  `gorm:"column:unit;type:varchar(32);comment:归一后的计量单位"`
	Ord         int     `gorm:"column:ord;type:int;default:0;comment:排序，新商品为0"`
	Subcategory *string `gorm:"column:subcategory;type:varchar(128);index;comment:子类，关联categories.subcat"`
}

// Sale 销售事实行。表上没有代理主键，自然键为 (year, month, type, client_code, product_code, manager)
type Sale struct {
	Year           int             `gorm:"column:year;type:int;not null;index:idx_sales_period,priority:2"`
	Month          int             `gorm:"column:month;type:int;not null;index:idx_sales_period,priority:3"`
	Type           string          `gorm:"column:type;type:varchar(32);not null;index:idx_sales_period,priority:1;comment:Факт/Bdg/FC"`
	ClientCode     string          `gorm:"column:client_code;type:varchar(64);not null;index"`
	ProductCode    string          `gorm:"column:product_code;type:varchar(64);not null;index"`
	Manager        string          `gorm:"column:manager;type:varchar(128)"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:numeric(18,4);not null;default:0"`
	RevenueExclTax decimal.Decimal `gorm:"column:revenue_excl_tax;type:numeric(18,2);not null;default:0"`
	RevenueInclTax decimal.Decimal `gorm:"column:revenue_incl_tax;type:numeric(18,2);not null;default:0"`
	Comment        string          `gorm:"column:comment;type:varchar(256);not null;default:'0';comment:非0表示人工维护行，更新时保留"`
}

// Region 区域参考表（人工维护，流水线只读）
type Region struct {
	Region          string `gorm:"column:region;type:varchar(128);primaryKey"`
	FederalDistrict string `gorm:"column:federal_district;type:varchar(128)"`
	TerrType        string `gorm:"column:terr_type;type:varchar(64)"`
}

// Category 商品分类参考表（人工维护，流水线只读）
type Category struct {
	Subcat   string `gorm:"column:subcat;type:varchar(128);primaryKey"`
	Category string `gorm:"column:category;type:varchar(128);index"`
	Type     string `gorm:"column:type;type:varchar(32);comment:Base/OEM"`
}

// LastUpdate 水位线，表中始终只有一行
type LastUpdate struct {
	Date string `gorm:"column:date;type:varchar(32);primaryKey;comment:最后一次成功入库的报表时间"`
}

// ReviewItem 待人工复核的自动推断结果
type ReviewItem struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Kind      string    `gorm:"column:kind;type:varchar(32);not null;index;comment:client_region/product_subcategory"`
	Code      string    `gorm:"column:code;type:varchar(64);not null;comment:客户或商品编码"`
	Raw       string    `gorm:"column:raw;type:text;comment:原始值（地址/商品名）"`
	Candidate string    `gorm:"column:candidate;type:varchar(256);comment:最佳候选"`
	Score     int       `gorm:"column:score;type:int;default:0"`
	Reason    string    `gorm:"column:reason;type:text"`
	Resolved  bool      `gorm:"column:resolved;type:boolean;default:false;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// UpdateRun 一次更新任务的执行记录
type UpdateRun struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Theme         string         `gorm:"column:theme;type:varchar(256)"`
	Subject       string         `gorm:"column:subject;type:varchar(512)"`
	Watermark     string         `gorm:"column:watermark;type:varchar(32)"`
	Status        string         `gorm:"column:status;type:varchar(16);not null;index;comment:running/success/failed/skipped"`
	NewClients    int            `gorm:"column:new_clients;type:int;default:0"`
	NewProducts   int            `gorm:"column:new_products;type:int;default:0"`
	FactRows      int            `gorm:"column:fact_rows;type:int;default:0"`
	PreservedRows int            `gorm:"column:preserved_rows;type:int;default:0"`
	Flagged       int            `gorm:"column:flagged;type:int;default:0"`
	Error         string         `gorm:"column:error;type:text"`
	Details       datatypes.JSON `gorm:"column:details;comment:新增编码、期间等明细"`
	StartedAt     time.Time      `gorm:"column:started_at;not null;index"`
	FinishedAt    *time.Time     `gorm:"column:finished_at"`
}

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"

	ReviewClientRegion       = "client_region"
	ReviewProductSubcategory = "product_subcategory"

	// CommentNone 自动入库行的默认备注
	CommentNone = "0"
)

func (Client) TableName() string     { return "clients" }
func (Product) TableName() string    { return "products" }
func (Sale) TableName() string       { return "sales" }
func (Region) TableName() string     { return "regions" }
func (Category) TableName() string   { return "categories" }
func (LastUpdate) TableName() string { return "last_update" }
func (ReviewItem) TableName() string { return "review_items" }
func (UpdateRun) TableName() string  { return "update_runs" }

// AllModels 按依赖顺序返回需要迁移的表
func AllModels() []any {
	return []any{
		&Region{},
		&Category{},
		&Client{},
		&Product{},
		&Sale{},
		&LastUpdate{},
		&ReviewItem{},
		&UpdateRun{},
	}
}
