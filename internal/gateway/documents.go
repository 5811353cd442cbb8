package gateway

import (
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/forms/v1"
	"google.golang.org/api/sheets/v4"
)

const (
	valueInputRaw       = "RAW"
	valueRenderUnformat = "UNFORMATTED_VALUE"
	bandFormula         = "=MOD(ROW(),2)=0"
)

var (
	headerShade = &sheets.Color{Red: 0.85, Green: 0.85, Blue: 0.85}
	bandShade   = &sheets.Color{Red: 0.95, Green: 0.95, Blue: 0.95}
)

// googleDocuments is Documents bound to one identity
type googleDocuments struct {
	gateway *Google
	sheets  *sheets.Service
	drive   *drive.Service
	forms   *forms.Service
}

func (d *googleDocuments) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	var id string
	err := d.gateway.call(ctx, "CreateSpreadsheet", func() error {
		ss, err := d.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{Title: title},
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = ss.SpreadsheetId
		return nil
	})
	return id, err
}

func (d *googleDocuments) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	var rows [][]interface{}
	err := d.gateway.call(ctx, "ReadRange", func() error {
		resp, err := d.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).
			ValueRenderOption(valueRenderUnformat).
			Context(ctx).Do()
		if err != nil {
			return err
		}
		rows = resp.Values
		return nil
	})
	return rows, err
}

func (d *googleDocuments) WriteRange(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	return d.gateway.call(ctx, "WriteRange", func() error {
		_, err := d.sheets.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
			ValueInputOption(valueInputRaw).
			Context(ctx).Do()
		return err
	})
}

func (d *googleDocuments) AppendRow(ctx context.Context, spreadsheetID, rng string, row []interface{}) error {
	return d.gateway.call(ctx, "AppendRow", func() error {
		_, err := d.sheets.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{
			Values: [][]interface{}{row},
		}).
			ValueInputOption(valueInputRaw).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return err
	})
}

func (d *googleDocuments) BatchUpdate(ctx context.Context, spreadsheetID string, ops ...Op) ([]Tab, error) {
	requests, err := sheetRequests(ops)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}

	var added []Tab
	err = d.gateway.call(ctx, "BatchUpdate", func() error {
		resp, err := d.sheets.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: requests,
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, reply := range resp.Replies {
			if reply == nil || reply.AddSheet == nil || reply.AddSheet.Properties == nil {
				continue
			}
			added = append(added, Tab{
				ID:    reply.AddSheet.Properties.SheetId,
				Title: reply.AddSheet.Properties.Title,
			})
		}
		return nil
	})
	return added, err
}

func (d *googleDocuments) ListTabs(ctx context.Context, spreadsheetID string) ([]Tab, error) {
	var tabs []Tab
	err := d.gateway.call(ctx, "ListTabs", func() error {
		ss, err := d.sheets.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, s := range ss.Sheets {
			if s.Properties == nil {
				continue
			}
			tabs = append(tabs, Tab{ID: s.Properties.SheetId, Title: s.Properties.Title})
		}
		return nil
	})
	return tabs, err
}

func (d *googleDocuments) ListFiles(ctx context.Context, query FileQuery) ([]File, error) {
	var files []File
	err := d.gateway.call(ctx, "ListFiles", func() error {
		files = files[:0]
		return d.drive.Files.List().
			Q(driveQuery(query)).
			Fields("nextPageToken, files(id, name)").
			PageSize(100).
			Pages(ctx, func(page *drive.FileList) error {
				for _, f := range page.Files {
					files = append(files, File{ID: f.Id, Name: f.Name})
				}
				return nil
			})
	})
	return files, err
}

func (d *googleDocuments) ShareFile(ctx context.Context, fileID, email string) error {
	return d.gateway.call(ctx, "ShareFile", func() error {
		_, err := d.drive.Permissions.Create(fileID, &drive.Permission{
			Type:         "user",
			Role:         "writer",
			EmailAddress: email,
		}).SendNotificationEmail(false).Context(ctx).Do()
		return err
	})
}

func (d *googleDocuments) CreateForm(ctx context.Context, title string) (string, error) {
	var id string
	err := d.gateway.call(ctx, "CreateForm", func() error {
		form, err := d.forms.Forms.Create(&forms.Form{
			Info: &forms.Info{Title: title},
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = form.FormId
		return nil
	})
	return id, err
}

func (d *googleDocuments) AddFormItems(ctx context.Context, formID string, items []FormItem) error {
	if len(items) == 0 {
		return nil
	}

	requests := make([]*forms.Request, 0, len(items))
	for i, item := range items {
		requests = append(requests, &forms.Request{
			CreateItem: &forms.CreateItemRequest{
				Item: &forms.Item{
					Title: item.Title,
					QuestionItem: &forms.QuestionItem{
						Question: &forms.Question{
							TextQuestion: &forms.TextQuestion{Paragraph: item.Paragraph},
						},
					},
				},
				Location: &forms.Location{Index: int64(i), ForceSendFields: []string{"Index"}},
			},
		})
	}

	return d.gateway.call(ctx, "AddFormItems", func() error {
		_, err := d.forms.Forms.BatchUpdate(formID, &forms.BatchUpdateFormRequest{
			Requests: requests,
		}).Context(ctx).Do()
		return err
	})
}

// sheetRequests converts ops to Sheets API requests. SheetId 0 is a valid
// tab id, so it is always force-sent.
func sheetRequests(ops []Op) ([]*sheets.Request, error) {
	requests := make([]*sheets.Request, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case AddTab:
			requests = append(requests, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: o.Title},
				},
			})
		case DeleteTab:
			requests = append(requests, &sheets.Request{
				DeleteSheet: &sheets.DeleteSheetRequest{
					SheetId:         o.TabID,
					ForceSendFields: []string{"SheetId"},
				},
			})
		case FormatHeader:
			format := &sheets.CellFormat{
				TextFormat: &sheets.TextFormat{Bold: o.Bold},
			}
			fields := "userEnteredFormat.textFormat.bold"
			if o.Shaded {
				format.BackgroundColor = headerShade
				fields += ",userEnteredFormat.backgroundColor"
			}
			requests = append(requests, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range:  gridRange(o.TabID, 0, 1),
					Cell:   &sheets.CellData{UserEnteredFormat: format},
					Fields: fields,
				},
			})
		case BandRows:
			requests = append(requests, &sheets.Request{
				AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
					Rule: &sheets.ConditionalFormatRule{
						Ranges: []*sheets.GridRange{gridRange(o.TabID, 1, o.Rows)},
						BooleanRule: &sheets.BooleanRule{
							Condition: &sheets.BooleanCondition{
								Type:   "CUSTOM_FORMULA",
								Values: []*sheets.ConditionValue{{UserEnteredValue: bandFormula}},
							},
							Format: &sheets.CellFormat{BackgroundColor: bandShade},
						},
					},
					Index:           0,
					ForceSendFields: []string{"Index"},
				},
			})
		default:
			return nil, fmt.Errorf("unsupported batch op %T", op)
		}
	}
	return requests, nil
}

func gridRange(tabID, startRow, endRow int64) *sheets.GridRange {
	return &sheets.GridRange{
		SheetId:         tabID,
		StartRowIndex:   startRow,
		EndRowIndex:     endRow,
		ForceSendFields: []string{"SheetId", "StartRowIndex"},
	}
}
