package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（与 config/config.yaml 对应）
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // HTTP服务
	Database DatabaseConfig `mapstructure:"database"` // 参考库
	Log      LogConfig      `mapstructure:"log"`      // 日志
	Mail     MailConfig     `mapstructure:"mail"`     // 报表邮箱
	Sync     SyncConfig     `mapstructure:"sync"`     // 定时更新
	Dadata   DadataConfig   `mapstructure:"dadata"`   // 地址清洗服务
	Matching MatchingConfig `mapstructure:"matching"` // 模糊匹配阈值
	Report   ReportConfig   `mapstructure:"report"`   // 报表结构与词表
	Redis    RedisConfig    `mapstructure:"redis"`    // 分布式锁（可选）
	Archive  ArchiveConfig  `mapstructure:"archive"`  // 原始附件归档（可选）
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// DatabaseConfig 数据库配置。DSN 以 postgres:// 开头时使用 PostgreSQL，否则视为 SQLite 文件路径
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // GORM SQL日志：silent/error/warn/info
}

// IsPostgres 是否为 PostgreSQL 连接串
func (d *DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.DSN, "postgres://") || strings.HasPrefix(d.DSN, "postgresql://")
}

// LogConfig 日志配置，Path 为空时只输出到 stdout
type LogConfig struct {
	Path       string `mapstructure:"path"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // 天
	Compress   bool   `mapstructure:"compress"`
}

// MailConfig 报表邮箱配置
type MailConfig struct {
	Source      string   `mapstructure:"source"`       // 报表来源：gmail / file
	Dir         string   `mapstructure:"dir"`          // source=file 时的报表目录
	AuthPath    string   `mapstructure:"auth_path"`    // credentials.json / token.json 所在目录
	User        string   `mapstructure:"user"`         // Gmail userId，默认 me
	Labels      []string `mapstructure:"labels"`       // 搜索的标签
	Query       string   `mapstructure:"query"`        // 额外的 Gmail 搜索语句
	MaxMessages int64    `mapstructure:"max_messages"` // 最多检查的邮件数
	Theme       string   `mapstructure:"theme"`        // 报表主题前缀
}

// SyncConfig 定时更新配置
type SyncConfig struct {
	Cron          string        `mapstructure:"cron"`           // Cron表达式
	RunOnStart    bool          `mapstructure:"run_on_start"`   // 启动后立即执行一次
	SkipUnchanged bool          `mapstructure:"skip_unchanged"` // 水位线未变化时跳过
	LockTTL       time.Duration `mapstructure:"lock_ttl"`       // 分布式锁过期时间
}

// HTTPClientConfig 外部HTTP调用的通用配置
type HTTPClientConfig struct {
	Timeout int    `mapstructure:"timeout"` // 请求超时（秒）
	Proxy   string `mapstructure:"proxy"`   // 代理地址
}

// DadataConfig 地址清洗服务配置
type DadataConfig struct {
	HTTPClientConfig `mapstructure:",squash"`
	BaseURL          string `mapstructure:"base_url"`
	Token            string `mapstructure:"token"`
	Secret           string `mapstructure:"secret"`
}

// Enabled 是否配置了凭据
func (d *DadataConfig) Enabled() bool { return d.Token != "" && d.Secret != "" }

// MatchingConfig 模糊匹配阈值（0-100），低于阈值的结果进入复核队列
type MatchingConfig struct {
	RegionMinScore      int `mapstructure:"region_min_score"`
	SubcategoryMinScore int `mapstructure:"subcategory_min_score"`
}

// ReportConfig 报表结构与受控词表
type ReportConfig struct {
	HeaderMarker     string            `mapstructure:"header_marker"`     // 表头行第一列的标记值
	RecordType       string            `mapstructure:"record_type"`       // 事实行类型标签
	HeadPlaceholders []string          `mapstructure:"head_placeholders"` // 视为“无上级单位”的占位值
	Units            map[string]string `mapstructure:"units"`             // 原始单位 -> 归一单位
	Columns          ColumnsConfig     `mapstructure:"columns"`           // 列名
}

// ColumnsConfig 报表列名
type ColumnsConfig struct {
	ClientCode     string `mapstructure:"client_code"`
	ClientName     string `mapstructure:"client_name"`
	HeadName       string `mapstructure:"head_name"`
	ClientType     string `mapstructure:"client_type"`
	Address        string `mapstructure:"address"`
	ProductCode    string `mapstructure:"product_code"`
	VendorCode     string `mapstructure:"vendor_code"`
	ProductName    string `mapstructure:"product_name"`
	ProductType    string `mapstructure:"product_type"`
	Unit           string `mapstructure:"unit"`
	Manager        string `mapstructure:"manager"`
	Quantity       string `mapstructure:"quantity"`
	RevenueExclTax string `mapstructure:"revenue_excl_tax"`
	RevenueInclTax string `mapstructure:"revenue_incl_tax"`
}

// RedisConfig Redis配置，Addr 为空时使用进程内锁
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	LockKey  string `mapstructure:"lock_key"`
}

// ArchiveConfig MinIO 归档配置，Endpoint 为空时不归档
type ArchiveConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoadConfig 加载配置文件，path 为空时读取 ./config/config.yaml；敏感项从 .env / 环境变量覆盖
func LoadConfig(path string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	v := viper.New()
	setDefaults(v)

	// 2. 读取 yaml
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	if cfg.Mail.AuthPath != "" && !filepath.IsAbs(cfg.Mail.AuthPath) {
		if wd, err := os.Getwd(); err == nil {
			cfg.Mail.AuthPath = filepath.Join(wd, cfg.Mail.AuthPath)
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.dsn", "data/sales.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("mail.source", "gmail")
	v.SetDefault("mail.dir", "inbox")
	v.SetDefault("mail.auth_path", "auth")
	v.SetDefault("mail.user", "me")
	v.SetDefault("mail.labels", []string{"INBOX", "CATEGORY_PERSONAL"})
	v.SetDefault("mail.max_messages", 50)
	v.SetDefault("mail.theme", "Продажи СТН (auto) от ")

	v.SetDefault("sync.cron", "40 7 * * *")
	v.SetDefault("sync.skip_unchanged", true)
	v.SetDefault("sync.lock_ttl", 30*time.Minute)

	v.SetDefault("dadata.base_url", "https://cleaner.dadata.ru")
	v.SetDefault("dadata.timeout", 15)

	v.SetDefault("matching.region_min_score", 60)
	v.SetDefault("matching.subcategory_min_score", 0)

	v.SetDefault("report.header_marker", DefaultReport().HeaderMarker)
	v.SetDefault("report.record_type", DefaultReport().RecordType)
	v.SetDefault("report.head_placeholders", DefaultReport().HeadPlaceholders)
	v.SetDefault("report.units", DefaultReport().Units)
	c := DefaultReport().Columns
	v.SetDefault("report.columns.client_code", c.ClientCode)
	v.SetDefault("report.columns.client_name", c.ClientName)
	v.SetDefault("report.columns.head_name", c.HeadName)
	v.SetDefault("report.columns.client_type", c.ClientType)
	v.SetDefault("report.columns.address", c.Address)
	v.SetDefault("report.columns.product_code", c.ProductCode)
	v.SetDefault("report.columns.vendor_code", c.VendorCode)
	v.SetDefault("report.columns.product_name", c.ProductName)
	v.SetDefault("report.columns.product_type", c.ProductType)
	v.SetDefault("report.columns.unit", c.Unit)
	v.SetDefault("report.columns.manager", c.Manager)
	v.SetDefault("report.columns.quantity", c.Quantity)
	v.SetDefault("report.columns.revenue_excl_tax", c.RevenueExclTax)
	v.SetDefault("report.columns.revenue_incl_tax", c.RevenueInclTax)

	v.SetDefault("redis.lock_key", "salessync:update:lock")
	v.SetDefault("archive.bucket", "sales-reports")
}

// DefaultReport 1С 导出的销售报表默认结构
func DefaultReport() ReportConfig {
	return ReportConfig{
		HeaderMarker:     "Клиент.Код",
		RecordType:       "Факт",
		HeadPlaceholders: []string{"", "0", "-", "<Не указано>", "Не указано", "Нет"},
		// viper 会把 map 的键转为小写，并把 "." 当作层级分隔符，所以键只写小写、不带句点
		Units: map[string]string{
			"шт":        "шт",
			"штука":     "шт",
			"руб":       "руб б/НДС",
			"руб б/ндс": "руб б/НДС",
		},
		Columns: ColumnsConfig{
			ClientCode:     "Клиент.Код",
			ClientName:     "Клиент.Наименование",
			HeadName:       "Клиент.Головное предприятие",
			ClientType:     "Клиент.Юр/Физ лицо",
			Address:        "Клиент.Адрес",
			ProductCode:    "Номенклатура.Код",
			VendorCode:     "Номенклатура.Артикул",
			ProductName:    "Номенклатура.Наименование",
			ProductType:    "Номенклатура.Вид номенклатуры",
			Unit:           "Номенклатура.Единица измерения",
			Manager:        "Менеджер",
			Quantity:       "Количество",
			RevenueExclTax: "Выручка без НДС",
			RevenueInclTax: "Выручка с НДС",
		},
	}
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DADATA_TOKEN"); v != "" {
		cfg.Dadata.Token = v
	}
	if v := os.Getenv("DADATA_SECRET"); v != "" {
		cfg.Dadata.Secret = v
	}
	if v := os.Getenv("DADATA_PROXY"); v != "" {
		cfg.Dadata.Proxy = v
	}
	if v := os.Getenv("MAIL_AUTH_PATH"); v != "" {
		cfg.Mail.AuthPath = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
}
