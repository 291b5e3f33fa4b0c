package dynamodb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-console/internal/domain"
)

// fakeAPI serves GetItem and Query from canned items and records writes.
type fakeAPI struct {
	items     map[string]map[string]awsv2types.AttributeValue
	putErr    error
	puts      []*awsv2dynamodb.PutItemInput
	deletes   []*awsv2dynamodb.DeleteItemInput
	transacts []*awsv2dynamodb.TransactWriteItemsInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: map[string]map[string]awsv2types.AttributeValue{}}
}

func attrS(m map[string]awsv2types.AttributeValue, name string) string {
	if v, ok := m[name].(*awsv2types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeAPI) add(t *testing.T, item any) {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	f.items[attrS(av, "PK")+"|"+attrS(av, "SK")] = av
}

func (f *fakeAPI) GetItem(_ context.Context, in *awsv2dynamodb.GetItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error) {
	return &awsv2dynamodb.GetItemOutput{Item: f.items[attrS(in.Key, "PK")+"|"+attrS(in.Key, "SK")]}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *awsv2dynamodb.PutItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &awsv2dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *awsv2dynamodb.DeleteItemInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return &awsv2dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(context.Context, *awsv2dynamodb.UpdateItemInput, ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.UpdateItemOutput, error) {
	return &awsv2dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *awsv2dynamodb.QueryInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error) {
	pk := attrS(in.ExpressionAttributeValues, ":pk")
	prefix := attrS(in.ExpressionAttributeValues, ":sk")
	var out []map[string]awsv2types.AttributeValue
	for _, item := range f.items {
		sk := attrS(item, "SK")
		if attrS(item, "PK") == pk && len(sk) >= len(prefix) && sk[:len(prefix)] == prefix {
			out = append(out, item)
		}
	}
	return &awsv2dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeAPI) Scan(context.Context, *awsv2dynamodb.ScanInput, ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.ScanOutput, error) {
	var out []map[string]awsv2types.AttributeValue
	for _, item := range f.items {
		out = append(out, item)
	}
	return &awsv2dynamodb.ScanOutput{Items: out}, nil
}

// TransactWriteItems applies puts and deletes all or nothing. Only the email
// ownership condition is evaluated.
func (f *fakeAPI) TransactWriteItems(_ context.Context, in *awsv2dynamodb.TransactWriteItemsInput, _ ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, in)
	reasons := make([]awsv2types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		switch {
		case it.Put != nil:
			if !f.ownedBy(it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeValues) {
				reasons[i].Code, failed = aws.String("ConditionalCheckFailed"), true
			}
		case it.Delete != nil:
			if !f.ownedBy(it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeValues) {
				reasons[i].Code, failed = aws.String("ConditionalCheckFailed"), true
			}
		}
	}
	if failed {
		return nil, &awsv2types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			f.items[attrS(it.Put.Item, "PK")+"|"+attrS(it.Put.Item, "SK")] = it.Put.Item
		case it.Delete != nil:
			delete(f.items, attrS(it.Delete.Key, "PK")+"|"+attrS(it.Delete.Key, "SK"))
		}
	}
	return &awsv2dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) ownedBy(k map[string]awsv2types.AttributeValue, cond *string, values map[string]awsv2types.AttributeValue) bool {
	if !strings.Contains(aws.ToString(cond), "PersonID = :id") {
		return true
	}
	existing, ok := f.items[attrS(k, "PK")+"|"+attrS(k, "SK")]
	if !ok {
		return true
	}
	have, _ := existing["PersonID"].(*awsv2types.AttributeValueMemberN)
	want, _ := values[":id"].(*awsv2types.AttributeValueMemberN)
	return have != nil && want != nil && have.Value == want.Value
}

func tracedContext(t *testing.T) context.Context {
	ctx, seg := xray.BeginSegment(context.Background(), "store-test")
	t.Cleanup(func() { seg.Close(nil) })
	return ctx
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "PERSON#42", personPK(42))
	assert.Equal(t, "EMAIL#ana@example.org", emailPK("  Ana@Example.org "))
	assert.Equal(t, "GRANT#p-1", grantSK("p-1"))
	assert.Equal(t, "PERM#p-1", permSK("p-1"))
	assert.Equal(t, "TEAM#3", teamSK(3))
}

func TestGrantItem_ToDomain(t *testing.T) {
	catalog := map[string]domain.Permission{"p-1": {ID: "p-1", Key: "events"}}
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	by := int64(5)
	it := toGrantItem(domain.Grant{ID: "g", PersonID: 1, PermissionID: "p-1", GrantedAt: exp.Add(-time.Hour), ExpiresAt: &exp, GrantedBy: &by})

	g := it.toDomain(catalog)
	require.NotNil(t, g.Permission)
	assert.Equal(t, "events", g.Permission.Key)
	assert.True(t, g.ExpiresAt.Equal(exp))
	assert.Equal(t, int64(5), *g.GrantedBy)

	orphan := grantItem{PermissionID: "p-gone", ExpiresAt: "garbage"}.toDomain(catalog)
	assert.Nil(t, orphan.Permission)
	require.NotNil(t, orphan.ExpiresAt)
	assert.False(t, orphan.ActiveAt(time.Now()))
}

func TestPermissionStore_FindPersonByEmail(t *testing.T) {
	api := newFakeAPI()
	api.add(t, emailItem{PK: emailPK("ana@example.org"), SK: emailSK, EntityType: entityEmail, PersonID: 9})
	api.add(t, toPersonItem(domain.Person{ID: 9, Email: "ana@example.org", FullName: "Ana", CanLogin: true}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))
	ctx := tracedContext(t)

	p, err := store.FindPersonByEmail(ctx, "ANA@example.org")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.FullName)
	assert.True(t, p.CanLogin)

	_, err = store.FindPersonByEmail(ctx, "nobody@example.org")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPermissionStore_ListGrantsForPerson_JoinsCatalog(t *testing.T) {
	api := newFakeAPI()
	api.add(t, permissionItem{PK: catalogPK, SK: permSK("p-1"), EntityType: entityPermission, ID: "p-1", Key: "photos"})
	api.add(t, toGrantItem(domain.Grant{ID: "g1", PersonID: 9, PermissionID: "p-1", GrantedAt: time.Now()}))
	api.add(t, toGrantItem(domain.Grant{ID: "g2", PersonID: 9, PermissionID: "p-missing", GrantedAt: time.Now()}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))

	grants, err := store.ListGrantsForPerson(tracedContext(t), 9)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	keys := domain.ActivePermissions(grants, time.Now()).Keys()
	assert.Equal(t, []string{"photos"}, keys)
}

func TestPermissionStore_InsertGrant_Conflict(t *testing.T) {
	api := newFakeAPI()
	api.putErr = &awsv2types.ConditionalCheckFailedException{Message: aws.String("exists")}
	store := NewPermissionStore(NewClientWithAPI(api, "console"))

	err := store.InsertGrant(tracedContext(t), domain.Grant{PersonID: 1, PermissionID: "p-1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.Len(t, api.puts, 1)
	assert.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(api.puts[0].ConditionExpression))
}

func TestPermissionStore_ReplaceGrants_Transactional(t *testing.T) {
	api := newFakeAPI()
	api.add(t, toGrantItem(domain.Grant{PersonID: 3, PermissionID: "keep"}))
	api.add(t, toGrantItem(domain.Grant{PersonID: 3, PermissionID: "drop"}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))

	err := store.ReplaceGrants(tracedContext(t), 3, []domain.Grant{
		{ID: "a", PermissionID: "keep"},
		{ID: "b", PermissionID: "new"},
	})
	require.NoError(t, err)
	require.Len(t, api.transacts, 1)
	items := api.transacts[0].TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Delete)
	assert.Equal(t, "GRANT#drop", attrS(items[0].Delete.Key, "SK"))
	assert.Equal(t, "PERSON#3", attrS(items[1].Put.Item, "PK"))
	assert.Empty(t, api.deletes)
}

func TestPermissionStore_ReplaceGrants_LargeSetFallsBackToDeletesFirst(t *testing.T) {
	api := newFakeAPI()
	for i := 0; i < 60; i++ {
		api.add(t, toGrantItem(domain.Grant{PersonID: 3, PermissionID: fmt.Sprintf("old-%d", i)}))
	}
	var grants []domain.Grant
	for i := 0; i < 60; i++ {
		grants = append(grants, domain.Grant{ID: fmt.Sprint(i), PermissionID: fmt.Sprintf("new-%d", i)})
	}
	store := NewPermissionStore(NewClientWithAPI(api, "console"))

	require.NoError(t, store.ReplaceGrants(tracedContext(t), 3, grants))
	assert.Empty(t, api.transacts)
	assert.Len(t, api.deletes, 60)
	assert.Len(t, api.puts, 60)
}

func TestSplitPeopleAndGrants(t *testing.T) {
	api := newFakeAPI()
	api.add(t, toPersonItem(domain.Person{ID: 1, Email: "a@example.org"}))
	api.add(t, toGrantItem(domain.Grant{PersonID: 1, PermissionID: "p-1"}))
	api.add(t, teamItem{PK: rosterPK, SK: teamSK(1), EntityType: entityTeam, ID: 1})
	var raw []map[string]awsv2types.AttributeValue
	for _, item := range api.items {
		raw = append(raw, item)
	}

	people, grants, err := splitPeopleAndGrants(raw, map[string]domain.Permission{"p-1": {ID: "p-1", Key: "team"}})
	require.NoError(t, err)
	require.Len(t, people, 1)
	require.Len(t, grants[1], 1)
	assert.Equal(t, "team", grants[1][0].Permission.Key)
}

func TestRosterRepository_UpdateOrderIsOneTransaction(t *testing.T) {
	api := newFakeAPI()
	repo := NewRosterRepository(NewClientWithAPI(api, "console"))

	err := repo.UpdateTeamOrder(tracedContext(t), []domain.OrderChange{{ID: 1, DisplayOrder: 2}, {ID: 2, DisplayOrder: 1}})
	require.NoError(t, err)
	require.Len(t, api.transacts, 1)
	items := api.transacts[0].TransactItems
	require.Len(t, items, 2)
	assert.Equal(t, "TEAM#1", attrS(items[0].Update.Key, "SK"))
	assert.Equal(t, "attribute_exists(PK)", aws.ToString(items[0].Update.ConditionExpression))

	require.NoError(t, repo.UpdateMemberOrder(tracedContext(t), nil))
	assert.Len(t, api.transacts, 1)
}

func TestIsConditionalCheckFailure_TransactionCanceled(t *testing.T) {
	err := &awsv2types.TransactionCanceledException{CancellationReasons: []awsv2types.CancellationReason{
		{Code: aws.String("None")},
		{Code: aws.String("ConditionalCheckFailed")},
	}}
	assert.True(t, isConditionalCheckFailure(err))
	assert.False(t, isConditionalCheckFailure(fmt.Errorf("plain")))
}

func TestPermissionStore_UpsertPersonMovesEmailPointer(t *testing.T) {
	api := newFakeAPI()
	api.add(t, emailItem{PK: emailPK("old@example.org"), SK: emailSK, EntityType: entityEmail, PersonID: 7})
	api.add(t, toPersonItem(domain.Person{ID: 7, Email: "old@example.org", CanLogin: true}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))
	ctx := tracedContext(t)

	require.NoError(t, store.UpsertPerson(ctx, domain.Person{ID: 7, Email: "new@example.org", CanLogin: true}))
	require.Len(t, api.transacts, 1)
	items := api.transacts[0].TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[2].Delete)
	assert.Equal(t, "EMAIL#old@example.org", attrS(items[2].Delete.Key, "PK"))
	assert.Equal(t, "Email = :old", aws.ToString(items[0].Put.ConditionExpression))

	_, err := store.FindPersonByEmail(ctx, "old@example.org")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	p, err := store.FindPersonByEmail(ctx, "new@example.org")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
}

func TestPermissionStore_UpsertPersonKeepsPointerWhenEmailUnchanged(t *testing.T) {
	api := newFakeAPI()
	api.add(t, emailItem{PK: emailPK("ana@example.org"), SK: emailSK, EntityType: entityEmail, PersonID: 9})
	api.add(t, toPersonItem(domain.Person{ID: 9, Email: "ana@example.org"}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))

	require.NoError(t, store.UpsertPerson(tracedContext(t), domain.Person{ID: 9, Email: "Ana@example.org", FullName: "Ana"}))
	require.Len(t, api.transacts, 1)
	assert.Len(t, api.transacts[0].TransactItems, 2)
}

func TestPermissionStore_UpsertPersonRejectsTakenEmail(t *testing.T) {
	api := newFakeAPI()
	api.add(t, emailItem{PK: emailPK("ana@example.org"), SK: emailSK, EntityType: entityEmail, PersonID: 9})
	api.add(t, toPersonItem(domain.Person{ID: 9, Email: "ana@example.org"}))
	store := NewPermissionStore(NewClientWithAPI(api, "console"))
	ctx := tracedContext(t)

	err := store.UpsertPerson(ctx, domain.Person{ID: 3, Email: "ana@example.org"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	p, err := store.FindPersonByEmail(ctx, "ana@example.org")
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.ID)
}
