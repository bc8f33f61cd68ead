package factgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDictionary = `
facts:
  - path: /filingStatus
    type: enum
    writable: true
    options: [single, marriedFilingJointly, headOfHousehold]
  - path: /primaryFilerTin
    type: tin
    writable: true
  - path: /refundAccount
    type: bankAccount
    writable: true
  - path: /interestTypes
    type: multiEnum
    writable: true
    options: [bank, bond, other]
  - path: /formW2s
    type: collection
  - path: /formW2s/*/writableWages
    type: dollar
    writable: true
  - path: /formW2s/*/hasTips
    type: boolean
    writable: true
  - path: /formW2s/*/isComplete
    type: boolean
    derived: {">=": [{"var": "/formW2s/*/writableWages"}, 0]}
  - path: /totalWages
    type: dollar
    derived: {"sum": ["/formW2s", {"var": "/formW2s/*/writableWages"}]}
  - path: /w2Count
    type: int
    derived: {"count": "/formW2s"}
  - path: /anyTips
    type: boolean
    derived: {"some": ["/formW2s", {"var": "/formW2s/*/hasTips"}]}
  - path: /standardDeduction
    type: dollar
    derived:
      if:
        - {"==": [{"var": "/filingStatus"}, "marriedFilingJointly"]}
        - 29200
        - 14600
  - path: /taxableIncome
    type: dollar
    placeholder: 0
    derived: {"max": [0, {"-": [{"var": "/totalWages"}, {"var": "/standardDeduction"}]}]}
`

const (
	itemA = "7d0f4c9e-5b7a-4a44-9d35-8f2f1d1e0a01"
	itemB = "7d0f4c9e-5b7a-4a44-9d35-8f2f1d1e0a02"
)

func loadTestDictionary(t *testing.T) *Dictionary {
	t.Helper()
	dict, err := LoadDictionary(strings.NewReader(testDictionary), FormatYAML)
	require.NoError(t, err)
	return dict
}

func w2Path(t *testing.T, id, field string) ConcretePath {
	t.Helper()
	return MustParsePath("/formW2s/*/" + field).MustBind(id)
}
