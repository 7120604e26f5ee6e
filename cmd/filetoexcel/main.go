// filetoexcel converts a collected sample file (.bin or .csv produced
// by entropycli) into an .xlsx workbook with a running z-score chart,
// so a collection run can be eyeballed for bias.
//
// Usage: filetoexcel <path-to-.bin-or-.csv>
package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName       = "Zscore"
	onesColumnName  = "ones"
	blockColumnName = "samples"
	timeColumnName  = "time"
)

// DataRow is one sample with its label and ones count, plus the
// computed cumulative mean and z-score.
type DataRow struct {
	Category       string
	Ones           int
	CumulativeMean float64
	ZScore         float64
}

// findInterval extracts the sampling interval in seconds from the
// `_i(\d+)` segment of the file name.
func findInterval(filePath string) (int, error) {
	re := regexp.MustCompile(`_i(\d+)`)
	m := re.FindStringSubmatch(filePath)
	if len(m) < 2 {
		return 0, fmt.Errorf("interval not found in file name: %s", filepath.Base(filePath))
	}
	return strconv.Atoi(m[1])
}

// findSampleBytes extracts the sample size in bytes from the
// `_s(\d+)_i` segment of the file name.
func findSampleBytes(filePath string) (int, error) {
	re := regexp.MustCompile(`_s(\d+)_i`)
	m := re.FindStringSubmatch(filePath)
	if len(m) < 2 {
		return 0, fmt.Errorf("sample size not found in file name: %s", filepath.Base(filePath))
	}
	return strconv.Atoi(m[1])
}

// readBinFile reads sampleBytes-sized blocks from a .bin file and
// returns (block number, ones count) rows. A trailing partial block is
// counted as-is.
func readBinFile(filePath string, sampleBytes int) ([]DataRow, error) {
	if sampleBytes <= 0 {
		return nil, errors.New("invalid sample size")
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	rows := make([]DataRow, 0, 1024)
	buf := make([]byte, sampleBytes)
	block := 1
	for {
		n, err := io.ReadFull(reader, buf)
		if n == 0 {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		count := 0
		for i := 0; i < n; i++ {
			count += bits.OnesCount8(buf[i])
		}
		rows = append(rows, DataRow{Category: strconv.Itoa(block), Ones: count})
		block++
		if n < sampleBytes {
			break
		}
	}
	return rows, nil
}

// readCSVFile reads timestamp,ones rows, formatting the timestamp as
// HH:MM:SS for the category label.
func readCSVFile(filePath string) ([]DataRow, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]DataRow, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		label := formatTimeLabel(strings.TrimSpace(rec[0]))
		onesStr := strings.TrimSpace(rec[1])
		ones, err := strconv.Atoi(onesStr)
		if err != nil {
			return nil, fmt.Errorf("invalid ones value '%s': %w", onesStr, err)
		}
		rows = append(rows, DataRow{Category: label, Ones: ones})
	}
	return rows, nil
}

// formatTimeLabel parses common timestamp formats and returns HH:MM:SS,
// or the original string if nothing matches.
func formatTimeLabel(s string) string {
	formats := []string{
		time.RFC3339,
		"20060102T15:04:05",
		"2006-01-02 15:04:05",
		"15:04:05",
		"15:04",
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04:05")
		}
	}
	return s
}

// calculateZTest computes the cumulative mean of ones per sample and a
// z-score against the expectation for unbiased bits:
//
//	expected_mean = 0.5 * bitsPerSample
//	expected_std_dev = sqrt(bitsPerSample * 0.25)
//	z_i = (cum_mean_i - expected_mean) / (expected_std_dev / sqrt(i+1))
func calculateZTest(rows []DataRow, bitsPerSample int) []DataRow {
	expectedMean := 0.5 * float64(bitsPerSample)
	expectedStdDev := math.Sqrt(float64(bitsPerSample) * 0.25)
	if expectedStdDev == 0 {
		return rows
	}
	sum := 0
	for i := range rows {
		sum += rows[i].Ones
		cumMean := float64(sum) / float64(i+1)
		z := (cumMean - expectedMean) / (expectedStdDev / math.Sqrt(float64(i+1)))
		rows[i].CumulativeMean = cumMean
		rows[i].ZScore = z
	}
	return rows
}

// writeToExcel writes the rows next to the input path as .xlsx, with a
// line chart of the z-score.
func writeToExcel(rows []DataRow, filePath string, bitsPerSample int, intervalSec int, firstColumnHeader string) error {
	if len(rows) == 0 {
		return errors.New("no data to write")
	}
	fileToSave := strings.TrimSuffix(filePath, filepath.Ext(filePath)) + ".xlsx"
	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(0)
	if defaultSheet != sheetName {
		f.NewSheet(sheetName)
		f.DeleteSheet(defaultSheet)
	}

	_ = f.SetCellStr(sheetName, "A1", firstColumnHeader)
	_ = f.SetCellStr(sheetName, "B1", onesColumnName)
	_ = f.SetCellStr(sheetName, "C1", "cumulative_mean")
	_ = f.SetCellStr(sheetName, "D1", "z_test")

	for i, r := range rows {
		rowIdx := i + 2
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowIdx), r.Category)
		_ = f.SetCellInt(sheetName, fmt.Sprintf("B%d", rowIdx), r.Ones)
		_ = f.SetCellFloat(sheetName, fmt.Sprintf("C%d", rowIdx), r.CumulativeMean, 6, 64)
		_ = f.SetCellFloat(sheetName, fmt.Sprintf("D%d", rowIdx), r.ZScore, 6, 64)
	}

	endRow := len(rows) + 1
	chart := &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{
			{
				Name:       fmt.Sprintf("%s!$D$1", sheetName),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetName, endRow),
				Values:     fmt.Sprintf("%s!$D$2:$D$%d", sheetName, endRow),
			},
		},
		Title:  []excelize.RichTextRun{{Text: filepath.Base(filePath)}},
		Legend: excelize.ChartLegend{Position: "none"},
		XAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: fmt.Sprintf("Number of Samples - one sample every %d second(s)", intervalSec)}}},
		YAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: fmt.Sprintf("Z-score - Sample Size = %d bits", bitsPerSample)}}, MajorGridLines: true},
	}
	if err := f.AddChart(sheetName, "F2", chart); err != nil {
		return err
	}

	return f.SaveAs(fileToSave)
}

// run parses the input name, reads the data, computes the z-test and
// exports the workbook.
func run(filePath string) error {
	interval, err := findInterval(filePath)
	if err != nil {
		return err
	}
	sampleBytes, err := findSampleBytes(filePath)
	if err != nil {
		return err
	}
	bitsPerSample := sampleBytes * 8

	var rows []DataRow
	firstHeader := blockColumnName
	switch {
	case strings.HasSuffix(strings.ToLower(filePath), ".bin"):
		rows, err = readBinFile(filePath, sampleBytes)
	case strings.HasSuffix(strings.ToLower(filePath), ".csv"):
		rows, err = readCSVFile(filePath)
		firstHeader = timeColumnName
	default:
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(filePath))
	}
	if err != nil {
		return err
	}

	rows = calculateZTest(rows, bitsPerSample)
	return writeToExcel(rows, filePath, bitsPerSample, interval, firstHeader)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: filetoexcel <path-to-.bin-or-.csv>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
