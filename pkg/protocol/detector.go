// Package protocol 从接口描述推断合约的协议类型
package protocol

import (
	"fmt"
	"sort"
	"strings"

	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Category 协议类型
type Category string

const (
	Lending        Category = "lending"
	AMM            Category = "amm"
	Vault          Category = "vault"
	Staking        Category = "staking"
	Bridge         Category = "bridge"
	ERC20          Category = "erc20"
	Governance     Category = "governance"
	NFTMarketplace Category = "nft_marketplace"
	Unknown        Category = "unknown"
)

// 各层级的单个匹配权重；总分封顶1.0
const (
	coreWeight       = 0.3
	supportingWeight = 0.1
	adminWeight      = 0.05
	maxScore         = 1.0
)

// Score 单个协议类型的评分
type Score struct {
	Category    Category `json:"category"`
	Value       float64  `json:"score"`
	CoreMatches int      `json:"core_matches"`
	Matched     []string `json:"matched_functions"`
	Evidence    string   `json:"evidence"`
}

// Result 协议检测结果
type Result struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// signatureSet 一个协议类型的三层名字模式
// 三层互不相交: core是决定性的操作，supporting是辅助操作，admin是治理操作
type signatureSet struct {
	category   Category
	core       []string
	supporting []string
	admin      []string
}

var signatureSets = []signatureSet{
	{
		category:   ERC20,
		core:       []string{"transfer", "transferfrom", "approve", "balanceof", "totalsupply"},
		supporting: []string{"allowance", "mint", "burn", "name", "symbol", "decimals"},
		admin:      []string{"pause", "unpause", "blacklist"},
	},
	{
		category:   AMM,
		core:       []string{"swap", "addliquidity", "removeliquidity", "getreserves"},
		supporting: []string{"sync", "skim", "quote", "getamountout", "getamountin", "pricecumulativelast"},
		admin:      []string{"setfeeto", "setfeetosetter", "initialize"},
	},
	{
		category:   Lending,
		core:       []string{"borrow", "repay", "liquidate", "flashloan", "repayborrow", "liquidateborrow"},
		supporting: []string{"entermarkets", "exitmarket", "accrueinterest", "utilizationrate", "getaccountliquidity", "collateralfactor"},
		admin:      []string{"setinterestratemodel", "setreservefactor", "setcollateralfactor"},
	},
	{
		category:   Vault,
		core:       []string{"deposit", "withdraw", "totalassets", "converttoshares", "converttoassets"},
		supporting: []string{"previewdeposit", "previewwithdraw", "previewredeem", "redeem", "asset", "maxdeposit", "maxwithdraw"},
		admin:      []string{"setfee", "setmanager", "harvest"},
	},
	{
		category:   Staking,
		core:       []string{"stake", "unstake", "getreward", "claimreward", "earned"},
		supporting: []string{"exit", "rewardpertoken", "notifyrewardamount", "lasttimerewardapplicable"},
		admin:      []string{"setrewardsduration", "recovererc20"},
	},
	{
		category:   Bridge,
		core:       []string{"lock", "unlock", "bridgetransfer", "relaymessage", "depositforburn"},
		supporting: []string{"verifyproof", "validatemessage", "claimtokens", "nonce"},
		admin:      []string{"setrelayer", "addvalidator", "removevalidator"},
	},
	{
		category:   Governance,
		core:       []string{"propose", "castvote", "execute", "queue"},
		supporting: []string{"delegate", "getvotes", "quorum", "state", "proposalthreshold"},
		admin:      []string{"setvotingdelay", "setvotingperiod", "settimelock"},
	},
	{
		category:   NFTMarketplace,
		core:       []string{"listitem", "buyitem", "createauction", "placebid"},
		supporting: []string{"cancellisting", "makeoffer", "acceptoffer", "settleauction"},
		admin:      []string{"setmarketplacefee", "withdrawfees"},
	},
}

// Detector 协议检测器
type Detector struct {
	epsilon float64 // 前两名分差小于该值时触发core决胜
}

// NewDetector 创建协议检测器
func NewDetector(epsilon float64) *Detector {
	if epsilon <= 0 {
		epsilon = 0.05
	}
	return &Detector{epsilon: epsilon}
}

// FunctionNames 从接口描述提取函数名
// 优先使用ABI JSON (如果harness提供了)，否则直接使用名字列表
func FunctionNames(desc types.InterfaceDescription) []string {
	if desc.ABI != "" {
		if parsed, err := abi.JSON(strings.NewReader(desc.ABI)); err == nil {
			var names []string
			for name := range parsed.Methods {
				names = append(names, name)
			}
			sort.Strings(names)
			return names
		}
		// ABI解析失败时回退到名字列表，不报错
	}
	return desc.Functions
}

// Detect 对接口函数名评分并选出协议类型
func (d *Detector) Detect(desc types.InterfaceDescription) Result {
	names := FunctionNames(desc)
	names = append(names, desc.Events...)

	scores := d.scoreAll(names)
	if len(scores) == 0 {
		return Result{Category: Unknown, Confidence: 0}
	}

	// 按分数降序排序，稳定排序保持signatureSets的注册顺序
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Value > scores[j].Value
	})

	var evidence []string
	for _, s := range scores {
		if s.Value > 0 {
			evidence = append(evidence, s.Evidence)
		}
	}

	top := scores[0]
	if top.Value == 0 {
		return Result{Category: Unknown, Confidence: 0, Evidence: evidence}
	}

	// 分差过小时用core层命中数决胜，仍然平手则放弃判断
	if len(scores) > 1 && top.Value-scores[1].Value < d.epsilon {
		second := scores[1]
		if second.CoreMatches > top.CoreMatches {
			top = second
		} else if second.CoreMatches == top.CoreMatches {
			return Result{Category: Unknown, Confidence: 0, Evidence: evidence}
		}
	}

	return Result{Category: top.Category, Confidence: top.Value, Evidence: evidence}
}

// scoreAll 对全部协议类型评分
func (d *Detector) scoreAll(names []string) []Score {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}

	scores := make([]Score, 0, len(signatureSets))
	for _, set := range signatureSets {
		s := Score{Category: set.category}
		for i, name := range lowered {
			switch {
			case matchesAny(name, set.core):
				s.Value += coreWeight
				s.CoreMatches++
				s.Matched = append(s.Matched, names[i])
			case matchesAny(name, set.supporting):
				s.Value += supportingWeight
				s.Matched = append(s.Matched, names[i])
			case matchesAny(name, set.admin):
				s.Value += adminWeight
				s.Matched = append(s.Matched, names[i])
			}
		}
		if s.Value > maxScore {
			s.Value = maxScore
		}
		s.Evidence = fmt.Sprintf("%s: matched %d functions (score=%.2f)", set.category, len(s.Matched), s.Value)
		scores = append(scores, s)
	}
	return scores
}

// matchesAny 函数名是否命中任一模式 (小写包含匹配)
func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
