package worksheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"haccp-core/internal/domain"

	"github.com/xuri/excelize/v2"
)

// 危害分析表列名（表头大小写、空格不敏感）
const (
	ColStepNumber           = "Step Number"
	ColHazardType           = "Hazard Type"
	ColHazardName           = "Hazard Name"
	ColDescription          = "Description"
	ColLikelihood           = "Likelihood"
	ColSeverity             = "Severity"
	ColControlMeasures      = "Control Measures"
	ColIsControlled         = "Is Controlled"
	ColControlEffectiveness = "Control Effectiveness"
)

// Columns 模板列顺序
var Columns = []string{
	ColStepNumber, ColHazardType, ColHazardName, ColDescription,
	ColLikelihood, ColSeverity, ColControlMeasures, ColIsControlled, ColControlEffectiveness,
}

var requiredColumns = []string{ColStepNumber, ColHazardType, ColHazardName, ColLikelihood, ColSeverity}

// HazardRow 工作表中的一行危害
type HazardRow struct {
	Row                  int               `json:"row"` // Excel 行号
	StepNumber           int               `json:"step_number"`
	HazardType           domain.HazardType `json:"hazard_type"`
	HazardName           string            `json:"hazard_name"`
	Description          string            `json:"description,omitempty"`
	Likelihood           int               `json:"likelihood"`
	Severity             int               `json:"severity"`
	ControlMeasures      string            `json:"control_measures,omitempty"`
	IsControlled         bool              `json:"is_controlled"`
	ControlEffectiveness int               `json:"control_effectiveness"`
}

// RowError 单行解析错误
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Import 解析结果；有错误的行不会出现在 Rows 中
type Import struct {
	Sheet  string
	Rows   []HazardRow
	Errors []RowError
}

// ImportHazards 读取 XLSX 危害分析表的第一个工作表
// 表头缺少必需列时整体失败，单行错误收集到 Errors
func ImportHazards(r io.Reader) (*Import, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", domain.ErrValidation, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", domain.ErrValidation, sheet)
	}

	index := headerIndex(rows[0])
	for _, col := range requiredColumns {
		if _, ok := index[normalize(col)]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrValidation, col)
		}
	}

	out := &Import{Sheet: sheet}
	for i, cells := range rows[1:] {
		rowNum := i + 2
		get := func(col string) string {
			j, ok := index[normalize(col)]
			if !ok || j >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[j])
		}
		if blank(cells) {
			continue
		}
		row, err := parseRow(rowNum, get)
		if err != nil {
			out.Errors = append(out.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func parseRow(rowNum int, get func(string) string) (HazardRow, error) {
	row := HazardRow{
		Row:             rowNum,
		HazardName:      get(ColHazardName),
		Description:     get(ColDescription),
		ControlMeasures: get(ColControlMeasures),
	}
	var err error
	if row.StepNumber, err = intCell(ColStepNumber, get(ColStepNumber), true); err != nil {
		return row, err
	}
	row.HazardType = domain.HazardType(strings.ToLower(get(ColHazardType)))
	if !row.HazardType.Valid() {
		return row, fmt.Errorf("unknown hazard type %q", get(ColHazardType))
	}
	if row.HazardName == "" {
		return row, fmt.Errorf("%s is required", ColHazardName)
	}
	if row.Likelihood, err = intCell(ColLikelihood, get(ColLikelihood), true); err != nil {
		return row, err
	}
	if row.Severity, err = intCell(ColSeverity, get(ColSeverity), true); err != nil {
		return row, err
	}
	if row.IsControlled, err = boolCell(ColIsControlled, get(ColIsControlled)); err != nil {
		return row, err
	}
	if row.ControlEffectiveness, err = intCell(ColControlEffectiveness, get(ColControlEffectiveness), false); err != nil {
		return row, err
	}
	if row.ControlEffectiveness < 0 || row.ControlEffectiveness > 5 {
		return row, fmt.Errorf("%s must be between 0 and 5", ColControlEffectiveness)
	}
	return row, nil
}

// WriteTemplate 生成只有表头的空白模板
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Hazards"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if key := normalize(h); key != "" {
			index[key] = i
		}
	}
	return index
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func intCell(col, v string, required bool) (int, error) {
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", col)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", col, v)
	}
	return n, nil
}

func boolCell(col, v string) (bool, error) {
	switch strings.ToLower(v) {
	case "", "no", "n", "false", "0":
		return false, nil
	case "yes", "y", "true", "1":
		return true, nil
	}
	return false, fmt.Errorf("%s must be yes or no, got %q", col, v)
}
