package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"admin-console/internal/domain"
	"admin-console/internal/ports"
)

type personItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	EntityType   string `dynamodbav:"EntityType"`
	ID           int64  `dynamodbav:"ID"`
	Email        string `dynamodbav:"Email"`
	FullName     string `dynamodbav:"FullName"`
	CanLogin     bool   `dynamodbav:"CanLogin"`
	IsActive     bool   `dynamodbav:"IsActive"`
	TeamID       *int64 `dynamodbav:"TeamID,omitempty"`
	DisplayOrder int    `dynamodbav:"DisplayOrder"`
}

type emailItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	PersonID   int64  `dynamodbav:"PersonID"`
}

type permissionItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	EntityType  string `dynamodbav:"EntityType"`
	ID          string `dynamodbav:"ID"`
	Key         string `dynamodbav:"Key"`
	Description string `dynamodbav:"Description"`
}

type grantItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	EntityType   string `dynamodbav:"EntityType"`
	ID           string `dynamodbav:"ID"`
	PersonID     int64  `dynamodbav:"PersonID"`
	PermissionID string `dynamodbav:"PermissionID"`
	GrantedAt    string `dynamodbav:"GrantedAt"`
	ExpiresAt    string `dynamodbav:"ExpiresAt,omitempty"`
	GrantedBy    *int64 `dynamodbav:"GrantedBy,omitempty"`
}

type teamItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	EntityType   string `dynamodbav:"EntityType"`
	ID           int64  `dynamodbav:"ID"`
	Name         string `dynamodbav:"Name"`
	DisplayOrder int    `dynamodbav:"DisplayOrder"`
}

func toPersonItem(p domain.Person) personItem {
	return personItem{
		PK: personPK(p.ID), SK: metaSK, EntityType: entityPerson,
		ID: p.ID, Email: p.Email, FullName: p.FullName,
		CanLogin: p.CanLogin, IsActive: p.IsActive,
		TeamID: p.TeamID, DisplayOrder: p.DisplayOrder,
	}
}

func (it personItem) toDomain() domain.Person {
	return domain.Person{
		ID: it.ID, Email: it.Email, FullName: it.FullName,
		CanLogin: it.CanLogin, IsActive: it.IsActive,
		TeamID: it.TeamID, DisplayOrder: it.DisplayOrder,
	}
}

func toGrantItem(g domain.Grant) grantItem {
	it := grantItem{
		PK: personPK(g.PersonID), SK: grantSK(g.PermissionID), EntityType: entityGrant,
		ID: g.ID, PersonID: g.PersonID, PermissionID: g.PermissionID,
		GrantedAt: g.GrantedAt.UTC().Format(time.RFC3339Nano),
		GrantedBy: g.GrantedBy,
	}
	if g.ExpiresAt != nil {
		it.ExpiresAt = g.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return it
}

// toDomain joins the grant with its catalog entry. A grant whose permission
// is missing from the catalog keeps a nil Permission.
func (it grantItem) toDomain(catalog map[string]domain.Permission) domain.Grant {
	g := domain.Grant{
		ID: it.ID, PersonID: it.PersonID, PermissionID: it.PermissionID,
		GrantedBy: it.GrantedBy,
	}
	g.GrantedAt, _ = time.Parse(time.RFC3339Nano, it.GrantedAt)
	if it.ExpiresAt != "" {
		if exp, err := time.Parse(time.RFC3339Nano, it.ExpiresAt); err == nil {
			g.ExpiresAt = &exp
		} else {
			// An unreadable expiry is treated as already lapsed.
			lapsed := time.Time{}
			g.ExpiresAt = &lapsed
		}
	}
	if perm, ok := catalog[it.PermissionID]; ok {
		g.Permission = &perm
	}
	return g
}

type PermissionStore struct{ client *Client }

func NewPermissionStore(client *Client) *PermissionStore {
	return &PermissionStore{client: client}
}

var (
	_ ports.PermissionStore = (*PermissionStore)(nil)
	_ ports.Seeder          = (*PermissionStore)(nil)
)

func (r *PermissionStore) getItem(ctx context.Context, segment, pk, sk string, out any) error {
	var res *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		var e error
		res, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       key(pk, sk),
		})
		return e
	})
	if err != nil {
		return err
	}
	if res.Item == nil {
		return domain.ErrNotFound
	}
	return attributevalue.UnmarshalMap(res.Item, out)
}

func (r *PermissionStore) query(ctx context.Context, segment, pk, skPrefix string) ([]map[string]awsv2types.AttributeValue, error) {
	var items []map[string]awsv2types.AttributeValue
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		p := awsv2dynamodb.NewQueryPaginator(r.client.db, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: pk},
				":sk": &awsv2types.AttributeValueMemberS{Value: skPrefix},
			},
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			items = append(items, page.Items...)
		}
		return nil
	})
	return items, err
}

func (r *PermissionStore) scan(ctx context.Context, segment string, in *awsv2dynamodb.ScanInput) ([]map[string]awsv2types.AttributeValue, error) {
	in.TableName = aws.String(r.client.tableName)
	var items []map[string]awsv2types.AttributeValue
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		p := awsv2dynamodb.NewScanPaginator(r.client.db, in)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			items = append(items, page.Items...)
		}
		return nil
	})
	return items, err
}

func (r *PermissionStore) FindPersonByEmail(ctx context.Context, email string) (domain.Person, error) {
	if strings.TrimSpace(email) == "" {
		return domain.Person{}, domain.ErrInvalidInput
	}
	var ptr emailItem
	if err := r.getItem(ctx, "DynamoDB.GetEmail", emailPK(email), emailSK, &ptr); err != nil {
		return domain.Person{}, err
	}
	return r.GetPerson(ctx, ptr.PersonID)
}

func (r *PermissionStore) GetPerson(ctx context.Context, personID int64) (domain.Person, error) {
	var it personItem
	if err := r.getItem(ctx, "DynamoDB.GetPerson", personPK(personID), metaSK, &it); err != nil {
		return domain.Person{}, err
	}
	return it.toDomain(), nil
}

func (r *PermissionStore) catalogIndex(ctx context.Context) (map[string]domain.Permission, error) {
	perms, err := r.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.Permission, len(perms))
	for _, p := range perms {
		index[p.ID] = p
	}
	return index, nil
}

func (r *PermissionStore) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	raw, err := r.query(ctx, "DynamoDB.QueryCatalog", catalogPK, permPrefix)
	if err != nil {
		return nil, err
	}
	var items []permissionItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, err
	}
	perms := make([]domain.Permission, 0, len(items))
	for _, it := range items {
		perms = append(perms, domain.Permission{ID: it.ID, Key: it.Key, Description: it.Description})
	}
	return perms, nil
}

func (r *PermissionStore) ListGrantsForPerson(ctx context.Context, personID int64) ([]domain.Grant, error) {
	raw, err := r.query(ctx, "DynamoDB.QueryGrants", personPK(personID), grantPrefix)
	if err != nil {
		return nil, err
	}
	var items []grantItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, err
	}
	catalog, err := r.catalogIndex(ctx)
	if err != nil {
		return nil, err
	}
	grants := make([]domain.Grant, 0, len(items))
	for _, it := range items {
		grants = append(grants, it.toDomain(catalog))
	}
	return grants, nil
}

func (r *PermissionStore) ListPeopleWithGrants(ctx context.Context) ([]domain.Person, map[int64][]domain.Grant, error) {
	raw, err := r.scan(ctx, "DynamoDB.ScanPeople", &awsv2dynamodb.ScanInput{
		FilterExpression: aws.String("EntityType IN (:person, :grant)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":person": &awsv2types.AttributeValueMemberS{Value: entityPerson},
			":grant":  &awsv2types.AttributeValueMemberS{Value: entityGrant},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	catalog, err := r.catalogIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	return splitPeopleAndGrants(raw, catalog)
}

func splitPeopleAndGrants(raw []map[string]awsv2types.AttributeValue, catalog map[string]domain.Permission) ([]domain.Person, map[int64][]domain.Grant, error) {
	var people []domain.Person
	grants := make(map[int64][]domain.Grant)
	for _, item := range raw {
		var head struct {
			EntityType string `dynamodbav:"EntityType"`
		}
		if err := attributevalue.UnmarshalMap(item, &head); err != nil {
			return nil, nil, err
		}
		switch head.EntityType {
		case entityPerson:
			var it personItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, nil, err
			}
			people = append(people, it.toDomain())
		case entityGrant:
			var it grantItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, nil, err
			}
			grants[it.PersonID] = append(grants[it.PersonID], it.toDomain(catalog))
		}
	}
	return people, grants, nil
}

// ReplaceGrants writes the new grant set atomically when it fits in one
// transaction. Larger sets are applied deletes first, so a failure part way
// leaves the person with fewer grants, never more.
func (r *PermissionStore) ReplaceGrants(ctx context.Context, personID int64, grants []domain.Grant) error {
	raw, err := r.query(ctx, "DynamoDB.QueryGrants", personPK(personID), grantPrefix)
	if err != nil {
		return err
	}
	var existing []grantItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &existing); err != nil {
		return err
	}
	puts, deletes, err := r.replacePlan(personID, existing, grants)
	if err != nil {
		return err
	}

	if len(puts)+len(deletes) <= maxTransactItems {
		if len(puts)+len(deletes) == 0 {
			return nil
		}
		return xray.Capture(ctx, "DynamoDB.ReplaceGrants", func(ctx context.Context) error {
			_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
				TransactItems: append(deletes, puts...),
			})
			return err
		})
	}

	return xray.Capture(ctx, "DynamoDB.ReplaceGrantsBatched", func(ctx context.Context) error {
		for _, d := range deletes {
			if _, err := r.client.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
				TableName: d.Delete.TableName,
				Key:       d.Delete.Key,
			}); err != nil {
				return err
			}
		}
		for _, p := range puts {
			if _, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
				TableName: p.Put.TableName,
				Item:      p.Put.Item,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// replacePlan deletes existing grants that are not in the new set and puts
// every new grant. An item can appear only once per transaction, so kept
// permissions are overwritten rather than deleted and re-added.
func (r *PermissionStore) replacePlan(personID int64, existing []grantItem, grants []domain.Grant) (puts, deletes []awsv2types.TransactWriteItem, err error) {
	keep := make(map[string]bool, len(grants))
	for _, g := range grants {
		g.PersonID = personID
		av, err := attributevalue.MarshalMap(toGrantItem(g))
		if err != nil {
			return nil, nil, err
		}
		keep[g.PermissionID] = true
		puts = append(puts, awsv2types.TransactWriteItem{Put: &awsv2types.Put{
			TableName: aws.String(r.client.tableName),
			Item:      av,
		}})
	}
	for _, it := range existing {
		if keep[it.PermissionID] {
			continue
		}
		deletes = append(deletes, awsv2types.TransactWriteItem{Delete: &awsv2types.Delete{
			TableName: aws.String(r.client.tableName),
			Key:       key(it.PK, it.SK),
		}})
	}
	return puts, deletes, nil
}

func (r *PermissionStore) InsertGrant(ctx context.Context, grant domain.Grant) error {
	av, err := attributevalue.MarshalMap(toGrantItem(grant))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutGrant", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return err
	})
}

func (r *PermissionStore) DeleteGrant(ctx context.Context, personID int64, permissionID string) error {
	return xray.Capture(ctx, "DynamoDB.DeleteGrant", func(ctx context.Context) error {
		_, err := r.client.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       key(personPK(personID), grantSK(permissionID)),
		})
		return err
	})
}

func (r *PermissionStore) put(ctx context.Context, segment string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, segment, func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item:      av,
		})
		return err
	})
}

func (r *PermissionStore) UpsertPermission(ctx context.Context, p domain.Permission) error {
	if p.ID == "" || p.Key == "" {
		return domain.ErrInvalidInput
	}
	return r.put(ctx, "DynamoDB.PutPermission", permissionItem{
		PK: catalogPK, SK: permSK(p.ID), EntityType: entityPermission,
		ID: p.ID, Key: p.Key, Description: p.Description,
	})
}

// UpsertPerson writes the person and its email pointer in one transaction.
// When the email changes the old pointer is removed in the same write, and
// an email already pointing at another person is a conflict.
func (r *PermissionStore) UpsertPerson(ctx context.Context, p domain.Person) error {
	if p.ID <= 0 || p.Email == "" {
		return domain.ErrInvalidInput
	}
	var current personItem
	err := r.getItem(ctx, "DynamoDB.GetPerson", personPK(p.ID), metaSK, &current)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	personAV, err := attributevalue.MarshalMap(toPersonItem(p))
	if err != nil {
		return err
	}
	emailAV, err := attributevalue.MarshalMap(emailItem{PK: emailPK(p.Email), SK: emailSK, EntityType: entityEmail, PersonID: p.ID})
	if err != nil {
		return err
	}
	id := &awsv2types.AttributeValueMemberN{Value: strconv.FormatInt(p.ID, 10)}
	table := aws.String(r.client.tableName)

	// The person row must still hold the email read above, so a concurrent
	// rename cannot leave a pointer behind.
	personPut := &awsv2types.Put{TableName: table, Item: personAV, ConditionExpression: aws.String("attribute_not_exists(PK)")}
	if exists {
		personPut.ConditionExpression = aws.String("Email = :old")
		personPut.ExpressionAttributeValues = map[string]awsv2types.AttributeValue{
			":old": &awsv2types.AttributeValueMemberS{Value: current.Email},
		}
	}
	items := []awsv2types.TransactWriteItem{
		{Put: personPut},
		{Put: &awsv2types.Put{
			TableName:                 table,
			Item:                      emailAV,
			ConditionExpression:       aws.String("attribute_not_exists(PK) OR PersonID = :id"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{":id": id},
		}},
	}
	if exists && emailPK(current.Email) != emailPK(p.Email) {
		items = append(items, awsv2types.TransactWriteItem{Delete: &awsv2types.Delete{
			TableName:                 table,
			Key:                       key(emailPK(current.Email), emailSK),
			ConditionExpression:       aws.String("attribute_not_exists(PK) OR PersonID = :id"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{":id": id},
		}})
	}

	return xray.Capture(ctx, "DynamoDB.PutPerson", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{TransactItems: items})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return err
	})
}

func (r *PermissionStore) UpsertTeam(ctx context.Context, t domain.Team) error {
	if t.ID <= 0 || t.Name == "" {
		return domain.ErrInvalidInput
	}
	return r.put(ctx, "DynamoDB.PutTeam", teamItem{
		PK: rosterPK, SK: teamSK(t.ID), EntityType: entityTeam,
		ID: t.ID, Name: t.Name, DisplayOrder: t.DisplayOrder,
	})
}

type RosterRepository struct{ store *PermissionStore }

func NewRosterRepository(client *Client) *RosterRepository {
	return &RosterRepository{store: NewPermissionStore(client)}
}

var _ ports.RosterRepository = (*RosterRepository)(nil)

func (r *RosterRepository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	raw, err := r.store.query(ctx, "DynamoDB.QueryTeams", rosterPK, teamPrefix)
	if err != nil {
		return nil, err
	}
	var items []teamItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, err
	}
	teams := make([]domain.Team, 0, len(items))
	for _, it := range items {
		teams = append(teams, domain.Team{ID: it.ID, Name: it.Name, DisplayOrder: it.DisplayOrder})
	}
	return teams, nil
}

func (r *RosterRepository) ListMembers(ctx context.Context, teamID int64) ([]domain.Person, error) {
	raw, err := r.store.scan(ctx, "DynamoDB.ScanMembers", &awsv2dynamodb.ScanInput{
		FilterExpression: aws.String("EntityType = :person AND TeamID = :team"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":person": &awsv2types.AttributeValueMemberS{Value: entityPerson},
			":team":   &awsv2types.AttributeValueMemberN{Value: strconv.FormatInt(teamID, 10)},
		},
	})
	if err != nil {
		return nil, err
	}
	var items []personItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, err
	}
	people := make([]domain.Person, 0, len(items))
	for _, it := range items {
		people = append(people, it.toDomain())
	}
	return people, nil
}

func (r *RosterRepository) UpdateTeamOrder(ctx context.Context, changes []domain.OrderChange) error {
	return r.updateOrder(ctx, "DynamoDB.UpdateTeamOrder", changes, func(id int64) map[string]awsv2types.AttributeValue {
		return key(rosterPK, teamSK(id))
	})
}

func (r *RosterRepository) UpdateMemberOrder(ctx context.Context, changes []domain.OrderChange) error {
	return r.updateOrder(ctx, "DynamoDB.UpdateMemberOrder", changes, func(id int64) map[string]awsv2types.AttributeValue {
		return key(personPK(id), metaSK)
	})
}

// updateOrder writes all display orders in one transaction so a reorder is
// never half applied. Every target must already exist.
func (r *RosterRepository) updateOrder(ctx context.Context, segment string, changes []domain.OrderChange, keyOf func(int64) map[string]awsv2types.AttributeValue) error {
	if len(changes) == 0 {
		return nil
	}
	if len(changes) > maxTransactItems {
		return domain.ErrInvalidInput
	}
	items := make([]awsv2types.TransactWriteItem, 0, len(changes))
	for _, c := range changes {
		items = append(items, awsv2types.TransactWriteItem{Update: &awsv2types.Update{
			TableName:           aws.String(r.store.client.tableName),
			Key:                 keyOf(c.ID),
			UpdateExpression:    aws.String("SET DisplayOrder = :o"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":o": &awsv2types.AttributeValueMemberN{Value: strconv.Itoa(c.DisplayOrder)},
			},
		}})
	}
	return xray.Capture(ctx, segment, func(ctx context.Context) error {
		_, err := r.store.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{TransactItems: items})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}
