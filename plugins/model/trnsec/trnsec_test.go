package trnsec

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afsrpt/internal/report"
	"afsrpt/pkg/contract"
)

const level11 = "FM-MSEMP FM-MSEM3 FM-MSINA FM-MSMAA FM-MSTAS FM-MSTRA IQ-MSCUR IQ-MSEM0 IQ-MSEM9"

func TestSampleReport(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	assert.True(t, m.Static())

	f, err := os.Open("../../../testdata/files/TRNSEC.txt")
	require.NoError(t, err)
	defer f.Close()

	tb, err := report.ParseReader(m, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"AUTH LEVEL", "EMPL NO", "HR NO", "NAME", "BR NO", "LAST PIN CHG", "PIN CHG DAYS", "GLOBAL", "TRANSACTIONS"}, tb.Headers)
	require.Len(t, tb.Records, 20)

	assert.Equal(t, contract.Record{"11", "0876-3", "X8173", "RICHARD COLLINS", "620", "12/30/15", "60", "0", level11}, tb.Records[0])
	assert.Equal(t, "1/14/16", tb.Records[5][5])
	// 第二页重复同一层级，交易码保留
	assert.Equal(t, contract.Record{"11", "8483-0", "U4425", "ALISON OLDHAM", "620", "12/21/15", "60", "0", level11}, tb.Records[19])
}

func TestLevelChangeResetsCodes(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	row := "EMPL NO: 0876-3 HR NO: X8173 NAME: RICHARD COLLINS                  BR NO: 620 LAST PIN CHG: 12/30/15 PIN CHG DAYS: 60 GLOBAL: 0"
	in := strings.Join([]string{
		"001 Wells Fargo Dealer Services              TRANSACTION SECURITY REPORT",
		"                                             JD/AUTHORITY LEVEL 11 TRANSACTIONS",
		"      FM-MSEMP",
		row,
		"                                             JD/AUTHORITY LEVEL 12 TRANSACTIONS",
		row,
		"      IQ-MSCUR IQ-MSEM0",
		"      IQ-MSEM9",
		row,
	}, "\n")
	tb, err := report.ParseReader(m, strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, tb.Records, 3)
	assert.Equal(t, []string{"11", "FM-MSEMP"}, []string{tb.Records[0][0], tb.Records[0][8]})
	assert.Equal(t, []string{"12", ""}, []string{tb.Records[1][0], tb.Records[1][8]})
	assert.Equal(t, []string{"12", "IQ-MSCUR IQ-MSEM0 IQ-MSEM9"}, []string{tb.Records[2][0], tb.Records[2][8]})
}

func TestMalformedEmployeeLine(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	in := "001 TRANSACTION SECURITY REPORT\nEMPL NO: 0876-3 HR NO: X8173 NAME: RICHARD COLLINS\n"
	_, err = report.ParseReader(m, strings.NewReader(in))
	require.ErrorIs(t, err, contract.ErrFormat)
	var le *contract.LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
}
