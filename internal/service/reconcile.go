package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/interfaces"
	"SalesSync/internal/model"
	"SalesSync/internal/repository"

	"github.com/sirupsen/logrus"
)

// ClientDiscovery 新客户及需要人工复核的区域推断
type ClientDiscovery struct {
	Clients []model.Client
	Review  []model.ReviewItem
}

// ProductDiscovery 新商品及需要人工复核的子类推断
type ProductDiscovery struct {
	Products []model.Product
	Review   []model.ReviewItem
}

// FactDelta 聚合后的事实行及其覆盖的期间
type FactDelta struct {
	RecordType string
	Rows       []model.Sale
	Periods    []model.Period
}

// Reconciliation 一次对账的全部结果（不含写入）
type Reconciliation struct {
	Clients  ClientDiscovery
	Products ProductDiscovery
	Facts    FactDelta
}

// ReconciliationEngine 从规范化事实行推导新维度行与事实增量。
// 三个步骤可单独调用，均相对于存储当前状态计算，重复执行不会产生重复维度行。
type ReconciliationEngine struct {
	refs     repository.ReferenceRepository
	cleaner  interfaces.AddressCleaner
	matching config.MatchingConfig
	report   config.ReportConfig
	logger   *logrus.Logger

	placeholders map[string]bool
	units        map[string]string
}

func NewReconciliationEngine(
	refs repository.ReferenceRepository,
	cleaner interfaces.AddressCleaner,
	matching config.MatchingConfig,
	report config.ReportConfig,
	logger *logrus.Logger,
) *ReconciliationEngine {
	e := &ReconciliationEngine{
		refs:         refs,
		cleaner:      cleaner,
		matching:     matching,
		report:       report,
		logger:       logger,
		placeholders: make(map[string]bool, len(report.HeadPlaceholders)),
		units:        make(map[string]string, len(report.Units)),
	}
	for _, p := range report.HeadPlaceholders {
		e.placeholders[strings.ToLower(strings.TrimSpace(p))] = true
	}
	for raw, unit := range report.Units {
		e.units[unitKey(raw)] = unit
	}
	return e
}

// Reconcile 依次执行三个步骤，不写入存储
func (e *ReconciliationEngine) Reconcile(ctx context.Context, rows []model.FactRow) (*Reconciliation, error) {
	clients, err := e.DiscoverClients(ctx, rows)
	if err != nil {
		return nil, err
	}
	products, err := e.DiscoverProducts(ctx, rows)
	if err != nil {
		return nil, err
	}
	facts, periods := AggregateFacts(rows)
	return &Reconciliation{
		Clients:  clients,
		Products: products,
		Facts:    FactDelta{RecordType: e.report.RecordType, Rows: facts, Periods: periods},
	}, nil
}

// DiscoverClients 找出存储中还没有的客户编码，补全上级单位并推断区域。
// 区域无法可靠确定时客户照常输出，Region 为空并生成复核项。
func (e *ReconciliationEngine) DiscoverClients(ctx context.Context, rows []model.FactRow) (ClientDiscovery, error) {
	var out ClientDiscovery

	distinct := make([]*model.FactRow, 0)
	seen := make(map[string]*model.FactRow)
	for i := range rows {
		r := &rows[i]
		if first, ok := seen[r.ClientCode]; ok {
			if first.ClientName != r.ClientName || first.Address != r.Address {
				e.logger.WithFields(logrus.Fields{
					"client_code": r.ClientCode,
					"row":         r.SourceRow,
					"first_row":   first.SourceRow,
				}).Warn("同一客户编码的属性不一致，使用首次出现的值")
			}
			continue
		}
		seen[r.ClientCode] = r
		distinct = append(distinct, r)
	}
	if len(distinct) == 0 {
		return out, nil
	}

	existing, err := e.refs.ExistingClientCodes(ctx, keysOf(distinct, func(r *model.FactRow) string { return r.ClientCode }))
	if err != nil {
		return out, err
	}
	var fresh []*model.FactRow
	for _, r := range distinct {
		if !existing[r.ClientCode] {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		e.logger.WithField("checked", len(distinct)).Info("没有新客户")
		return out, nil
	}

	regions, err := e.refs.Regions(ctx)
	if err != nil {
		return out, err
	}
	catalog := make([]model.CatalogEntry, 0, len(regions))
	for _, r := range regions {
		catalog = append(catalog, model.CatalogEntry{Label: r.Region, Value: r.Region})
	}

	// 先逐个清洗地址，再对清洗结果批量做模糊匹配
	cleaned := make(map[string]string, len(fresh))
	failures := make(map[string]error)
	var labels []string
	for _, r := range fresh {
		label, err := e.cleaner.CleanRegion(ctx, r.Address)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			failures[r.ClientCode] = err
			continue
		}
		cleaned[r.ClientCode] = label
		labels = append(labels, label)
	}
	matches := MatchCatalog(labels, catalog)

	for _, r := range fresh {
		client := model.Client{
			Code:     r.ClientCode,
			Name:     r.ClientName,
			HeadName: e.headName(r),
			Type:     r.ClientType,
		}

		var resErr *apperr.RegionResolutionError
		if cause, failed := failures[r.ClientCode]; failed {
			resErr = &apperr.RegionResolutionError{ClientCode: r.ClientCode, Address: r.Address, Cause: cause}
		} else {
			label := cleaned[r.ClientCode]
			m, ok := matches[label]
			switch {
			case !ok:
				resErr = &apperr.RegionResolutionError{ClientCode: r.ClientCode, Address: r.Address, Cleaned: label,
					Cause: errors.New("regions table is empty")}
			case m.Score < e.matching.RegionMinScore:
				resErr = &apperr.RegionResolutionError{ClientCode: r.ClientCode, Address: r.Address, Cleaned: label,
					Candidate: m.Value, Score: m.Score}
			default:
				region := m.Value
				client.Region = &region
			}
		}

		if resErr != nil {
			e.logger.WithError(resErr).WithField("client_code", r.ClientCode).Warn("客户区域待人工复核")
			out.Review = append(out.Review, model.ReviewItem{
				Kind:      model.ReviewClientRegion,
				Code:      r.ClientCode,
				Raw:       r.Address,
				Candidate: resErr.Candidate,
				Score:     resErr.Score,
				Reason:    resErr.Error(),
			})
		}
		out.Clients = append(out.Clients, client)
		e.logger.WithFields(logrus.Fields{
			"client_code": client.Code,
			"name":        client.Name,
			"region":      derefOr(client.Region, ""),
		}).Info("发现新客户")
	}

	e.logger.WithFields(logrus.Fields{
		"new":     len(out.Clients),
		"flagged": len(out.Review),
	}).Info("客户发现完成")
	return out, nil
}

// DiscoverProducts 找出存储中还没有的商品编码，归一计量单位并推断子类。
// 任一新商品的单位不在词表中时整个步骤失败，不返回任何商品。
func (e *ReconciliationEngine) DiscoverProducts(ctx context.Context, rows []model.FactRow) (ProductDiscovery, error) {
	var out ProductDiscovery

	distinct := make([]*model.FactRow, 0)
	seen := make(map[string]bool)
	for i := range rows {
		r := &rows[i]
		if seen[r.ProductCode] {
			continue
		}
		seen[r.ProductCode] = true
		distinct = append(distinct, r)
	}
	if len(distinct) == 0 {
		return out, nil
	}

	existing, err := e.refs.ExistingProductCodes(ctx, keysOf(distinct, func(r *model.FactRow) string { return r.ProductCode }))
	if err != nil {
		return out, err
	}
	var fresh []*model.FactRow
	for _, r := range distinct {
		if !existing[r.ProductCode] {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		e.logger.WithField("checked", len(distinct)).Info("没有新商品")
		return out, nil
	}

	units := make(map[string]string, len(fresh))
	var unitErrs []error
	for _, r := range fresh {
		unit, ok := e.units[unitKey(r.Unit)]
		if !ok {
			unitErrs = append(unitErrs, &apperr.UnknownUnitError{ProductCode: r.ProductCode, Unit: r.Unit})
			continue
		}
		units[r.ProductCode] = unit
	}
	if len(unitErrs) > 0 {
		err := errors.Join(unitErrs...)
		e.logger.WithError(err).WithField("count", len(unitErrs)).Error("商品计量单位不在词表中")
		return ProductDiscovery{}, err
	}

	catalog, err := e.refs.ProductSubcategories(ctx)
	if err != nil {
		return out, err
	}
	catalog = dedupeLabels(catalog)
	names := make([]string, 0, len(fresh))
	for _, r := range fresh {
		names = append(names, r.ProductName)
	}
	matches := MatchCatalog(names, catalog)

	for _, r := range fresh {
		product := model.Product{
			Code:       r.ProductCode,
			Name:       r.ProductName,
			VendorCode: r.VendorCode,
			CodeAP:     "0",
			Type:       r.ProductType,
			Unit:       units[r.ProductCode],
			Ord:        0,
		}
		m, ok := matches[r.ProductName]
		switch {
		case !ok:
			out.Review = append(out.Review, model.ReviewItem{
				Kind: model.ReviewProductSubcategory, Code: r.ProductCode, Raw: r.ProductName,
				Reason: "no products with subcategory to match against",
			})
		case m.Score < e.matching.SubcategoryMinScore:
			out.Review = append(out.Review, model.ReviewItem{
				Kind: model.ReviewProductSubcategory, Code: r.ProductCode, Raw: r.ProductName,
				Candidate: m.Value, Score: m.Score,
				Reason: "best match " + m.Label + " below threshold",
			})
		default:
			subcat := m.Value
			product.Subcategory = &subcat
		}
		out.Products = append(out.Products, product)
		e.logger.WithFields(logrus.Fields{
			"product_code": product.Code,
			"name":         product.Name,
			"subcategory":  derefOr(product.Subcategory, ""),
			"score":        m.Score,
		}).Info("发现新商品")
	}

	e.logger.WithFields(logrus.Fields{
		"new":     len(out.Products),
		"flagged": len(out.Review),
	}).Info("商品发现完成")
	return out, nil
}

// AggregateFacts 按自然键 (year, month, type, client_code, product_code, manager) 汇总，
// 输出顺序为各键首次出现的顺序；同时返回涉及的期间（升序）
func AggregateFacts(rows []model.FactRow) ([]model.Sale, []model.Period) {
	index := make(map[model.FactKey]int, len(rows))
	sales := make([]model.Sale, 0, len(rows))
	periodSet := make(map[model.Period]bool)

	for i := range rows {
		r := &rows[i]
		periodSet[r.Period] = true
		key := r.Key()
		if at, ok := index[key]; ok {
			s := &sales[at]
			s.Quantity = s.Quantity.Add(r.Quantity)
			s.RevenueExclTax = s.RevenueExclTax.Add(r.RevenueExclTax)
			s.RevenueInclTax = s.RevenueInclTax.Add(r.RevenueInclTax)
			continue
		}
		index[key] = len(sales)
		sales = append(sales, model.Sale{
			Year:           r.Year,
			Month:          r.Month,
			Type:           r.RecordType,
			ClientCode:     r.ClientCode,
			ProductCode:    r.ProductCode,
			Manager:        r.Manager,
			Quantity:       r.Quantity,
			RevenueExclTax: r.RevenueExclTax,
			RevenueInclTax: r.RevenueInclTax,
			Comment:        model.CommentNone,
		})
	}

	periods := make([]model.Period, 0, len(periodSet))
	for p := range periodSet {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return sales, periods
}

func (e *ReconciliationEngine) headName(r *model.FactRow) string {
	if e.placeholders[strings.ToLower(strings.TrimSpace(r.HeadName))] {
		return r.ClientName
	}
	return r.HeadName
}

// unitKey 单位词表的查找键：小写并去掉结尾句点（“шт.” 与 “шт” 相同）
func unitKey(unit string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".")
}

// dedupeLabels 同名商品只保留首次出现的子类
func dedupeLabels(catalog []model.CatalogEntry) []model.CatalogEntry {
	seen := make(map[string]bool, len(catalog))
	out := catalog[:0:0]
	for _, c := range catalog {
		if seen[c.Label] {
			continue
		}
		seen[c.Label] = true
		out = append(out, c)
	}
	return out
}

func keysOf(rows []*model.FactRow, key func(*model.FactRow) string) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, key(r))
	}
	return keys
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
