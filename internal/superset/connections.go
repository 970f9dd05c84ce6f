package superset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

const (
	databaseListPath           = "databaseview/list/"
	datasetListPath            = "tablemodelview/list/"
	wfsBackendName             = "wfs"
	otherEngineLabel           = "Other"
	deleteConfirmationKeyword  = "DELETE"
	logEventConnectionCreated  = "wfs_connection_created"
	logEventConnectionDeleted  = "wfs_connection_deleted"
	logEventDatasetCreated     = "dataset_created"
	logEventDatasetDeleted     = "dataset_deleted"
	logFieldOutcome            = "outcome"
	logFieldConfirmation       = "confirmation"
	confirmationConnected      = "connected"
	confirmationAlreadyExists  = "already_exists"
	confirmationChartOffered   = "chart_offered"
	confirmationDatasetExists  = "dataset_exists"
	connectionRowMismatchFmt   = "%w: row %q does not list backend %q"
	rowCellSeparator           = "\t"
	backendCellIndex           = 1
	deletionPollInterval       = 250 * time.Millisecond
	deletionRemainingRowsFmt   = "%w: %d %q entries still listed"
	missingConfirmationFmt     = "%w: none of %s appeared"
	deleteDialogTitleDatabase  = "Delete Database?"
	deleteDialogTitleDataset   = "Delete Dataset?"
	deletedNotificationText    = "Deleted:"
	connectionSuccessText      = "Database connected"
	connectionTestSuccessText  = "Connection looks good!"
	alreadyExistsText          = "already exists"
	datasetExistsText          = "This table already has a dataset"
	createChartOfferText       = "Create a new chart"
	createDatasetAndChartText  = "Create dataset and create chart"
	connectDatabaseHeadingText = "Connect a database"
	newDatasetHeadingText      = "New dataset"
	testConnectionButtonText   = "Test connection"
)

var (
	// AddButton opens the creation form on list pages.
	AddButton = browser.CSS("i.fa-plus")
	// ConnectDatabaseHeading titles the database connection modal.
	ConnectDatabaseHeading = browser.CSS("h4").WithText(connectDatabaseHeadingText)
	// EngineSelect is the database engine dropdown of the connection modal.
	EngineSelect = browser.CSS("#rc_select_4")
	// OtherEngineOption picks the generic SQLAlchemy engine.
	OtherEngineOption = browser.CSS(`div[title="Other"]`)
	// SQLAlchemyURIField holds the connection string.
	SQLAlchemyURIField = browser.CSS(`[name="sqlalchemy_uri"]`)
	// TestConnectionButton checks the connection string.
	TestConnectionButton = browser.Text(testConnectionButtonText)
	// ConnectionLooksGood confirms a passing connection test.
	ConnectionLooksGood = browser.Text(connectionTestSuccessText)
	// ConnectButton submits the connection modal. It is the known flaky control that may need a scroll.
	ConnectButton = browser.CSS("button.superset-button-primary").Nth(1)
	// OtherConnectionRow is the list row of the generic engine connection.
	OtherConnectionRow = browser.CSS(`table[role="table"] tbody tr`).WithText(otherEngineLabel)
	// TrashIcon deletes the first listed entry.
	TrashIcon = browser.CSS(`span[aria-label="trash"]`)
	// DeleteConfirmationField takes the confirmation keyword.
	DeleteConfirmationField = browser.CSS("#delete")
	// DeleteButton confirms a deletion.
	DeleteButton = browser.CSS("button").WithText("Delete")
	// DeletedNotification confirms a deletion.
	DeletedNotification = browser.Text(deletedNotificationText)
	// OtherEngineLabel marks rows that belong to the generic engine.
	OtherEngineLabel = browser.CSS("span").WithText(otherEngineLabel)
	// NewDatasetHeading titles the dataset creation page.
	NewDatasetHeading = browser.Text(newDatasetHeadingText)
	// DatabaseSelect picks the dataset database.
	DatabaseSelect = browser.CSS(`input[aria-label="Select database or type to search databases"]`)
	// WFSDatabaseOption is the first database backed by WFS.
	WFSDatabaseOption = browser.CSS(`div[backend="wfs"]`)
	// TableSelect picks the dataset table.
	TableSelect = browser.CSS(`input[aria-label="Select table or type to search tables"]`)
	// FirstTableOption is the first table offered.
	FirstTableOption = browser.CSS(`span[aria-label="table"]`)
	// CreateDatasetAndChartButton submits the dataset form.
	CreateDatasetAndChartButton = browser.Text(createDatasetAndChartText)
)

// CreateWFSConnection registers the configured WFS endpoint as a database. An existing
// connection counts as success.
func (workflows *Workflows) CreateWFSConnection(ctx context.Context, page browser.Page) error {
	if openErr := workflows.open(ctx, page, databaseListPath); openErr != nil {
		return openErr
	}
	if clickErr := workflows.clickVisible(ctx, page, AddButton); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open connection form", clickErr)
	}
	if waitErr := page.WaitVisible(ctx, ConnectDatabaseHeading, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for connection form", waitErr)
	}

	if waitErr := page.WaitVisible(ctx, EngineSelect, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for engine select", waitErr)
	}
	if clickErr := page.Click(ctx, EngineSelect, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open engine select", clickErr)
	}
	if clickErr := page.Click(ctx, OtherEngineOption, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "choose engine", clickErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}

	if waitErr := page.WaitVisible(ctx, SQLAlchemyURIField, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for connection string field", waitErr)
	}
	if fillErr := page.Fill(ctx, SQLAlchemyURIField, workflows.configuration.WFSEndpoint); fillErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "fill connection string", fillErr)
	}
	if clickErr := page.Click(ctx, TestConnectionButton, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "test connection", clickErr)
	}
	if waitErr := page.WaitVisible(ctx, ConnectionLooksGood, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf("%w: connection test: %w", ErrConnectionFailed, waitErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}

	outcome, connectErr := browser.EnsureInteractable(ctx, page, ConnectButton, alternativeMessageTimeout,
		browser.ClickAction(page, ConnectButton, browser.ClickOptions{}))
	if connectErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "connect database", connectErr)
	}

	confirmation, confirmErr := workflows.firstVisible(ctx, page,
		confirmationCandidate{label: confirmationConnected, selector: browser.Text(connectionSuccessText), timeout: workflows.configuration.ActionTimeout},
		confirmationCandidate{label: confirmationAlreadyExists, selector: browser.Text(alreadyExistsText), timeout: workflows.configuration.ActionTimeout},
	)
	if confirmErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "confirm connection", confirmErr)
	}
	if confirmation == "" {
		return fmt.Errorf(missingConfirmationFmt, ErrConnectionFailed, strings.Join([]string{connectionSuccessText, alreadyExistsText}, ", "))
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}

	rowText, rowErr := page.InnerText(ctx, OtherConnectionRow)
	if rowErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "read connection row", rowErr)
	}
	if !strings.Contains(rowCell(rowText, backendCellIndex), wfsBackendName) {
		return fmt.Errorf(connectionRowMismatchFmt, ErrConnectionFailed, rowText, wfsBackendName)
	}

	workflows.logger.Info(logEventConnectionCreated,
		zap.String(logFieldOutcome, outcome.String()),
		zap.String(logFieldConfirmation, confirmation),
	)
	return nil
}

// DeleteWFSConnection deletes the first listed database and requires that no generic engine
// connection remains.
func (workflows *Workflows) DeleteWFSConnection(ctx context.Context, page browser.Page) error {
	if deleteErr := workflows.deleteFirst(ctx, page, databaseListPath, deleteDialogTitleDatabase); deleteErr != nil {
		return deleteErr
	}
	workflows.logger.Info(logEventConnectionDeleted)
	return nil
}

// CreateDataset makes sure the WFS connection exists and creates a dataset from its first table.
// An existing dataset counts as success.
func (workflows *Workflows) CreateDataset(ctx context.Context, page browser.Page) error {
	if connectionErr := workflows.CreateWFSConnection(ctx, page); connectionErr != nil {
		return connectionErr
	}

	if openErr := workflows.open(ctx, page, datasetListPath); openErr != nil {
		return openErr
	}
	if clickErr := workflows.clickVisible(ctx, page, AddButton); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open dataset form", clickErr)
	}
	if waitErr := page.WaitVisible(ctx, NewDatasetHeading, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for dataset form", waitErr)
	}

	if waitErr := page.WaitVisible(ctx, DatabaseSelect, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for database select", waitErr)
	}
	if clickErr := page.Click(ctx, DatabaseSelect, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open database select", clickErr)
	}
	if clickErr := page.Click(ctx, WFSDatabaseOption, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "choose database", clickErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}

	if waitErr := page.WaitVisible(ctx, TableSelect, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for table select", waitErr)
	}
	if clickErr := page.Click(ctx, TableSelect, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open table select", clickErr)
	}
	if clickErr := page.Click(ctx, FirstTableOption, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "choose table", clickErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}

	confirmation, confirmErr := workflows.submitDataset(ctx, page)
	if confirmErr != nil {
		return confirmErr
	}
	workflows.logger.Info(logEventDatasetCreated, zap.String(logFieldConfirmation, confirmation))
	return nil
}

// submitDataset submits the dataset form. When the submit control is unavailable the table
// already has a dataset, which the form reports instead.
func (workflows *Workflows) submitDataset(ctx context.Context, page browser.Page) (string, error) {
	submitErr := page.Click(ctx, CreateDatasetAndChartButton, browser.ClickOptions{})
	if submitErr == nil {
		if idleErr := settle(ctx, page); idleErr != nil {
			return "", idleErr
		}
		confirmation, confirmErr := workflows.firstVisible(ctx, page,
			confirmationCandidate{label: confirmationChartOffered, selector: browser.Text(createChartOfferText), timeout: alternativeMessageTimeout},
			confirmationCandidate{label: confirmationAlreadyExists, selector: browser.Text(alreadyExistsText), timeout: alternativeMessageTimeout},
		)
		if confirmErr != nil {
			return "", confirmErr
		}
		if confirmation != "" {
			return confirmation, nil
		}
	}

	exists, existsErr := visibleWithin(ctx, page, browser.Text(datasetExistsText), alternativeMessageTimeout)
	if existsErr != nil {
		return "", existsErr
	}
	if !exists {
		candidates := strings.Join([]string{createChartOfferText, alreadyExistsText, datasetExistsText}, ", ")
		if submitErr != nil {
			return "", fmt.Errorf("%w: %s: submit: %w", ErrDatasetFailed, candidates, submitErr)
		}
		return "", fmt.Errorf(missingConfirmationFmt, ErrDatasetFailed, candidates)
	}
	return confirmationDatasetExists, nil
}

// DeleteDataset deletes the first listed dataset and requires that no generic engine entry remains.
func (workflows *Workflows) DeleteDataset(ctx context.Context, page browser.Page) error {
	if deleteErr := workflows.deleteFirst(ctx, page, datasetListPath, deleteDialogTitleDataset); deleteErr != nil {
		return deleteErr
	}
	workflows.logger.Info(logEventDatasetDeleted)
	return nil
}

func (workflows *Workflows) deleteFirst(ctx context.Context, page browser.Page, listPath string, dialogTitle string) error {
	if openErr := workflows.open(ctx, page, listPath); openErr != nil {
		return openErr
	}
	if clickErr := page.Click(ctx, TrashIcon, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open delete dialog", clickErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}
	if waitErr := page.WaitVisible(ctx, browser.Text(dialogTitle), workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for delete dialog", waitErr)
	}
	if fillErr := page.Fill(ctx, DeleteConfirmationField, deleteConfirmationKeyword); fillErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "confirm deletion keyword", fillErr)
	}
	if clickErr := page.Click(ctx, DeleteButton, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "confirm deletion", clickErr)
	}
	if idleErr := settle(ctx, page); idleErr != nil {
		return idleErr
	}
	if waitErr := page.WaitVisible(ctx, DeletedNotification, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for deletion notice", waitErr)
	}
	remaining, countErr := workflows.waitForNoMatches(ctx, page, OtherEngineLabel)
	if countErr != nil {
		return countErr
	}
	if remaining != 0 {
		return fmt.Errorf(deletionRemainingRowsFmt, ErrDeletionIncomplete, remaining, otherEngineLabel)
	}
	return nil
}

// waitForNoMatches re-counts the selector until nothing matches or the action timeout runs out,
// and returns the last count.
func (workflows *Workflows) waitForNoMatches(ctx context.Context, page browser.Page, selector browser.Selector) (int, error) {
	polls := int(workflows.configuration.ActionTimeout / deletionPollInterval)
	for poll := 0; ; poll++ {
		remaining, countErr := page.Count(ctx, selector)
		if countErr != nil {
			return 0, countErr
		}
		if remaining == 0 || poll >= polls {
			return remaining, nil
		}
		if sleepErr := page.Sleep(ctx, deletionPollInterval); sleepErr != nil {
			return 0, sleepErr
		}
	}
}

// rowCell returns one cell of a table row's inner text, where cells are tab separated.
func rowCell(rowText string, index int) string {
	cells := strings.Split(rowText, rowCellSeparator)
	if index >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[index])
}

type confirmationCandidate struct {
	label    string
	selector browser.Selector
	timeout  time.Duration
}

// firstVisible checks the candidates in order and returns the label of the first that shows up.
// An empty label means none appeared.
func (workflows *Workflows) firstVisible(ctx context.Context, page browser.Page, candidates ...confirmationCandidate) (string, error) {
	for _, candidate := range candidates {
		visible, visibleErr := visibleWithin(ctx, page, candidate.selector, candidate.timeout)
		if visibleErr != nil {
			return "", visibleErr
		}
		if visible {
			return candidate.label, nil
		}
	}
	return "", nil
}
