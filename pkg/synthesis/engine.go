// Package synthesis 将取证记录驱动的各检测阶段编排为确定性流水线
package synthesis

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"invarsynth/pkg/crosscontract"
	"invarsynth/pkg/formula"
	"invarsynth/pkg/layout"
	"invarsynth/pkg/patterns"
	"invarsynth/pkg/protocol"
	"invarsynth/pkg/semantics"
	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

// Result 一次合成运行的完整产出
// 要么是完整一致的集合，要么整个运行被丢弃，不存在部分输出
type Result struct {
	Protocol       string                                           `json:"protocol,omitempty"`
	ProtocolResult protocol.Result                                  `json:"protocol_result"`
	Patterns       []patterns.ChangePattern                         `json:"patterns"`
	Paths          map[common.Address]crosscontract.PropagationPath `json:"paths,omitempty"`
	Invariants     []formula.Invariant                              `json:"invariants"`
}

// Engine 不变量合成引擎
// 单次运行是同步确定性的；多个独立运行可以并行，互不共享可变状态
type Engine struct {
	cfg *Config
}

// NewEngine 创建引擎
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Synthesize 对单条取证记录执行完整流水线
func (e *Engine) Synthesize(record *types.ForensicRecord) (*Result, error) {
	if record == nil {
		return nil, errors.New("nil forensic record")
	}

	log.Printf("开始合成运行: %s", record.Protocol)

	// 1. 存储布局
	layouts := e.calculateLayouts(record)

	// 2. 槽语义标注 (含按trace地址派生的mapping槽)
	trace := types.Flatten(record.AttackTrace)
	annotations, metas := e.annotate(record, layouts, trace)

	// 3. 协议类型
	protocolResult := protocol.NewDetector(e.cfg.ScoreEpsilon).Detect(record.Interface)
	log.Printf("  协议检测: %s (置信度 %.2f)", protocolResult.Category, protocolResult.Confidence)

	// 4. 状态差异与模式分类
	detector := patterns.NewDetector(patterns.Config{
		FlashChangeMultiplier:   e.cfg.FlashChangeMultiplier,
		SwapCallMinimum:         e.cfg.SwapCallMinimum,
		RatioBreakDeviation:     e.cfg.RatioBreakDeviation,
		MassiveTransferFraction: e.cfg.MassiveTransferFraction,
	})

	var allPatterns []patterns.ChangePattern
	patternCount := make(map[common.Address]int)
	for _, contract := range sortedContracts(record) {
		detected := detector.Detect(contract, record.PreState[contract], record.PostState[contract],
			annotations[contract], trace)
		allPatterns = append(allPatterns, detected...)
		patternCount[contract] = len(detected)
	}
	log.Printf("  模式分类: %d 个状态变化模式", len(allPatterns))

	// 5. 跨合约传播
	paths, correlations := e.propagate(record, trace, patternCount)

	// 6. 公式与阈值合成 (每次运行独立的Builder/分配器)
	invariants := formula.NewBuilder().Build(allPatterns, protocolResult, paths, correlations, metas)
	log.Printf("合成完成: %s 产出 %d 条不变量", record.Protocol, len(invariants))

	return &Result{
		Protocol:       record.Protocol,
		ProtocolResult: protocolResult,
		Patterns:       allPatterns,
		Paths:          paths,
		Invariants:     invariants,
	}, nil
}

// RunAll 在有界worker池上并行执行多条独立记录
// 结果按输入顺序返回；失败的运行整体置nil，不产生部分输出
func (e *Engine) RunAll(records []*types.ForensicRecord) []*Result {
	results := make([]*Result, len(records))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				result, err := e.Synthesize(records[idx])
				if err != nil {
					log.Printf("运行 #%d 失败: %v", idx, err)
					continue
				}
				results[idx] = result
			}
		}()
	}

	for idx := range records {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}

// calculateLayouts 按合约分组变量并计算布局
func (e *Engine) calculateLayouts(record *types.ForensicRecord) map[common.Address][]layout.SlotInfo {
	byContract := make(map[common.Address][]types.StateVariable)
	for _, v := range record.StateVariables {
		byContract[v.Contract] = append(byContract[v.Contract], v)
	}

	calc := layout.NewCalculator()
	layouts := make(map[common.Address][]layout.SlotInfo)
	for contract, vars := range byContract {
		layouts[contract] = calc.CalculateLayout(vars)
	}
	return layouts
}

// annotate 为每个合约的槽生成语义标注和溯源元信息
// mapping变量的数据不在base槽里，对trace中出现过的地址派生候选槽并
// 带上mapping自身的语义；快照中出现但布局未覆盖的槽降级为
// snapshot-only，仅靠类型/采样值启发
func (e *Engine) annotate(
	record *types.ForensicRecord,
	layouts map[common.Address][]layout.SlotInfo,
	trace []types.TraceEntry,
) (map[common.Address]map[common.Hash]semantics.Annotation, map[common.Address]map[common.Hash]formula.SlotMeta) {
	mapper := semantics.NewMapper()
	annotations := make(map[common.Address]map[common.Hash]semantics.Annotation)
	metas := make(map[common.Address]map[common.Hash]formula.SlotMeta)

	varTypes := make(map[common.Address]map[string]string)
	for _, v := range record.StateVariables {
		if varTypes[v.Contract] == nil {
			varTypes[v.Contract] = make(map[string]string)
		}
		varTypes[v.Contract][v.Name] = v.Type
	}

	ensure := func(contract common.Address) {
		if annotations[contract] == nil {
			annotations[contract] = make(map[common.Hash]semantics.Annotation)
			metas[contract] = make(map[common.Hash]formula.SlotMeta)
		}
	}

	for contract, infos := range layouts {
		ensure(contract)
		pre := record.PreState[contract]
		for _, info := range infos {
			slot := info.SlotHash()
			sample := pre[slot].Big()
			ann := mapper.Map(info.Name, varTypes[contract][info.Name], sample)
			// 打包共享槽: 保留置信度更高的标注
			if existing, ok := annotations[contract][slot]; ok && existing.Confidence >= ann.Confidence {
				continue
			}
			annotations[contract][slot] = ann
			metas[contract][slot] = formula.SlotMeta{
				Name:               info.Name,
				Semantic:           ann.Category,
				SemanticConfidence: ann.Confidence,
				Source:             info.Source,
			}
		}
	}

	// mapping槽派生: 对trace中出现过的每个地址计算
	// keccak(pad32(addr) || pad32(base))，命中快照的槽继承mapping的语义
	addrs := traceAddresses(trace)
	for contract, infos := range layouts {
		for _, info := range infos {
			if !strings.HasPrefix(strings.TrimSpace(varTypes[contract][info.Name]), "mapping") {
				continue
			}
			base := annotations[contract][info.SlotHash()]
			for _, addr := range addrs {
				slot := layout.DeriveAddressMappingSlot(addr, info.Slot)
				if _, ok := annotations[contract][slot]; ok {
					continue
				}
				annotations[contract][slot] = base
				metas[contract][slot] = formula.SlotMeta{
					Name:               info.Name,
					Semantic:           base.Category,
					SemanticConfidence: base.Confidence,
					Source:             layout.FromDeclaration,
				}
			}
		}
	}

	// 快照独有的槽: 没有声明信息，只能用采样值启发
	for contract, post := range record.PostState {
		ensure(contract)
		for slot := range post {
			if _, ok := annotations[contract][slot]; ok {
				continue
			}
			sample := post[slot].Big()
			ann := mapper.Map("", "", sample)
			annotations[contract][slot] = ann
			metas[contract][slot] = formula.SlotMeta{
				Semantic:           ann.Category,
				SemanticConfidence: ann.Confidence,
				Source:             layout.FromSnapshotOnly,
			}
		}
	}

	return annotations, metas
}

// propagate 对每个有状态变化的合约求传播路径和相关性候选
func (e *Engine) propagate(
	record *types.ForensicRecord,
	trace []types.TraceEntry,
	patternCount map[common.Address]int,
) (map[common.Address]crosscontract.PropagationPath, map[common.Address][]crosscontract.CorrelationCandidate) {
	paths := make(map[common.Address]crosscontract.PropagationPath)
	correlations := make(map[common.Address][]crosscontract.CorrelationCandidate)

	if record.Protected == nil {
		return paths, correlations
	}

	analyzer := crosscontract.NewAnalyzer(e.cfg.MaxPropagationDepth)
	for contract, count := range patternCount {
		if count == 0 {
			continue
		}

		path := analyzer.Analyze(trace, *record.Protected, contract)
		paths[contract] = path

		if path.Kind != crosscontract.Indirect {
			continue
		}
		changes := patterns.DiffSnapshots(contract, record.PreState[contract], record.PostState[contract])
		candidates := crosscontract.FindCorrelations(path.Entry, changes, path)
		if len(candidates) == 0 {
			continue
		}

		// Z3可用时做联合一致性检查，不可用时直接接受区间筛选结果
		if checker, err := crosscontract.NewZ3Checker(); err == nil {
			consistent, err := checker.CheckConsistency(candidates)
			checker.Close()
			if err == nil && !consistent {
				candidates = nil
			}
		}
		correlations[contract] = candidates
	}
	return paths, correlations
}

// traceAddresses 返回trace中出现过的全部地址 (caller与callee去重)
func traceAddresses(trace []types.TraceEntry) []common.Address {
	seen := make(map[common.Address]bool)
	var addrs []common.Address
	for _, entry := range trace {
		for _, addr := range [2]common.Address{entry.Caller, entry.Callee} {
			if !seen[addr] {
				seen[addr] = true
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs
}

// sortedContracts 返回确定性排序的合约地址 (pre/post快照的并集)
func sortedContracts(record *types.ForensicRecord) []common.Address {
	set := make(map[common.Address]bool)
	for addr := range record.PreState {
		set[addr] = true
	}
	for addr := range record.PostState {
		set[addr] = true
	}

	contracts := make([]common.Address, 0, len(set))
	for addr := range set {
		contracts = append(contracts, addr)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].Hex() < contracts[j].Hex()
	})
	return contracts
}
