package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *awsv2dynamodb.GetItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *awsv2dynamodb.PutItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *awsv2dynamodb.DeleteItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *awsv2dynamodb.UpdateItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *awsv2dynamodb.QueryInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *awsv2dynamodb.ScanInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *awsv2dynamodb.TransactWriteItemsInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error)
}

type Client struct {
	db        API
	tableName string
}

func NewClient(ctx context.Context, region, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	return &Client{db: awsv2dynamodb.NewFromConfig(cfg), tableName: tableName}, nil
}

func NewClientWithAPI(api API, tableName string) *Client {
	return &Client{db: api, tableName: tableName}
}

// Single-table layout:
//
//	PERSON#<id>   META            person
//	PERSON#<id>   GRANT#<permID>  grant
//	EMAIL#<email> PERSON          email lookup pointer
//	CATALOG       PERM#<permID>   catalog entry
//	ROSTER        TEAM#<id>       team
const (
	entityPerson     = "PERSON"
	entityEmail      = "EMAIL"
	entityPermission = "PERMISSION"
	entityGrant      = "GRANT"
	entityTeam       = "TEAM"

	catalogPK = "CATALOG"
	rosterPK  = "ROSTER"
	metaSK    = "META"
	emailSK   = "PERSON"

	grantPrefix = "GRANT#"
	permPrefix  = "PERM#"
	teamPrefix  = "TEAM#"

	maxTransactItems = 100
)

func personPK(id int64) string           { return "PERSON#" + strconv.FormatInt(id, 10) }
func emailPK(email string) string        { return "EMAIL#" + strings.ToLower(strings.TrimSpace(email)) }
func grantSK(permissionID string) string { return grantPrefix + permissionID }
func permSK(permissionID string) string  { return permPrefix + permissionID }
func teamSK(id int64) string             { return teamPrefix + strconv.FormatInt(id, 10) }

func key(pk, sk string) map[string]awsv2types.AttributeValue {
	return map[string]awsv2types.AttributeValue{
		"PK": &awsv2types.AttributeValueMemberS{Value: pk},
		"SK": &awsv2types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var canceled *awsv2types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
