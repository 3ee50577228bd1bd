package parser

// Pattern and keyword tables for Chinese drug packaging. They are compiled
// into an Extractor once and never mutated.

var approvalNoPatterns = []string{
	`国药准字\s*[HZSJB]\s*\d{8}`,
	`国药准字\s*[HZSJB]\s*\d{4}\s*\d{4}`,
	`准字\s*[HZSJB]\s*\d{8}`,
	`进口药品注册证号\s*[A-Z]*\d+`,
	`注册证号\s*[A-Z]*\d+`,
	`国械注[准进]\s*\d+`,
}

var specPatterns = []string{
	// mass per unit, optionally times a count
	`\d+\.?\d*\s*[mμ]?[gG克毫微][\s/×xX*]*\d*\s*[片粒袋支瓶盒]*`,
	// volume
	`\d+\.?\d*\s*[mM][lL毫升][\s/×xX*]*\d*\s*[支瓶盒]*`,
	// international units
	`\d+\.?\d*\s*[IiUu单位][\s/×xX*]*\d*`,
	// per-unit content
	`每[片粒袋支][含有]?\s*\d+\.?\d*\s*[mμ]?[gG克毫微]`,
}

// DosageForms is searched in order; the first substring hit wins.
var DosageForms = []string{
	"片", "胶囊", "颗粒", "口服液", "注射液", "注射用", "软膏", "乳膏",
	"滴眼液", "滴鼻液", "喷雾剂", "气雾剂", "栓", "丸", "散", "膏",
	"糖浆", "合剂", "酊", "搽剂", "洗剂", "贴", "缓释片", "分散片",
	"肠溶片", "泡腾片", "咀嚼片", "含片", "滴丸", "胶丸", "软胶囊",
	"硬胶囊", "干混悬剂", "混悬液", "溶液", "乳剂", "凝胶",
}

var otcPatterns = []string{
	`OTC`,
	`非处方药`,
	`甲类\s*OTC`,
	`乙类\s*OTC`,
}

const (
	OTCClassA        = "OTC甲类"
	OTCClassB        = "OTC乙类"
	OTCUnspecified   = "OTC"
	PrescriptionOnly = "处方药"
)

var enterpriseKeywords = []string{
	"制药", "药业", "药厂", "生物", "医药", "集团", "有限公司",
	"股份", "科技", "实业", "工业", "化学", "中药",
}

const (
	enterpriseLabelPattern = `^(生产企业|生产厂家|企业名称|制造商)[：:]\s*`
	enterpriseShapePattern = `([\x{4e00}-\x{9fa5}]+(?:制药|药业|药厂|医药|生物)[\x{4e00}-\x{9fa5}]*(?:有限公司|股份|集团)[\x{4e00}-\x{9fa5}]*)`
	enterpriseMinRunes     = 4
)

// nameSkipKeywords mark label lines that are never a drug name.
var nameSkipKeywords = []string{
	"生产", "批准", "有效期", "批号", "规格", "成份", "用法", "用量",
	"适应", "禁忌", "注意", "贮藏", "包装", "执行标准", "说明书",
	"OTC", "处方药",
}

const (
	nameMinRunes  = 2
	nameMaxRunes  = 30
	brandMaxRunes = 10
)

// field weights for the presence score
const (
	weightApprovalNo  = 0.30
	weightGenericName = 0.25
	weightEnterprise  = 0.15
	weightSpec        = 0.10
	weightDosageForm  = 0.10
	weightOTCType     = 0.10

	presenceBlend = 0.7
	lineBlend     = 0.3
)
