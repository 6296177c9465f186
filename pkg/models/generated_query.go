package models

import (
	"encoding/json"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/jsonutil"
)

// GeneratedQuery is what the generation service returns for a chat turn:
// exactly one of *Answer or *Clarify.
type GeneratedQuery interface {
	generatedQuery()
}

// Answer carries SQL plus how to present it.
type Answer struct {
	SQL   string    `json:"sql"`
	Chart ChartType `json:"grafico"`
	Title string    `json:"titulo,omitempty"`
	Text  string    `json:"respuesta"`
}

// Clarify asks the user for the missing piece instead of guessing SQL.
type Clarify struct {
	Question string `json:"ask"`
}

func (*Answer) generatedQuery()  {}
func (*Clarify) generatedQuery() {}

const defaultAnswerText = "Aquí tienes el gráfico."

// DecodeGeneratedQuery decodes one reply object. The first pass only looks
// at which of "sql" and "ask" carry text; an object with both or neither is
// a contract violation. The second pass decodes the chosen variant with sql
// and ask required to be JSON strings.
func DecodeGeneratedQuery(raw []byte) (GeneratedQuery, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, apperrors.Contract("reply is not a JSON object: %v", err)
	}

	hasSQL := strings.TrimSpace(jsonutil.FlexibleStringValue(fields["sql"])) != ""
	hasAsk := strings.TrimSpace(jsonutil.FlexibleStringValue(fields["ask"])) != ""

	switch {
	case hasSQL && hasAsk:
		return nil, apperrors.Contract("reply carries both sql and ask")
	case !hasSQL && !hasAsk:
		return nil, apperrors.Contract("reply carries neither sql nor ask")
	case hasAsk:
		var question string
		if err := json.Unmarshal(fields["ask"], &question); err != nil {
			return nil, apperrors.Contract("ask must be a string")
		}
		return &Clarify{Question: strings.TrimSpace(question)}, nil
	}

	var sql string
	if err := json.Unmarshal(fields["sql"], &sql); err != nil {
		return nil, apperrors.Contract("sql must be a string")
	}
	answer := &Answer{
		SQL:   strings.TrimSpace(sql),
		Chart: NormalizeChartType(jsonutil.FlexibleStringValue(fields["grafico"])),
		Title: strings.TrimSpace(jsonutil.FlexibleStringValue(fields["titulo"])),
		Text:  strings.TrimSpace(jsonutil.FlexibleStringValue(fields["respuesta"])),
	}
	if answer.Text == "" {
		answer.Text = defaultAnswerText
	}
	return answer, nil
}
