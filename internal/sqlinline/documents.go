package sqlinline

const QCountDocumentChunks = `--sql 5acbafaa-3b98-4c9b-a21c-96cedd654060
select count(*)
from document_chunks
where document_id = $1::text;
`

const QListDocumentChunks = `--sql 460b2cad-d369-41e0-ba68-b66999ed4308
select document_id, chunk_index, coalesce(title, ''), content
from document_chunks
where document_id = $1::text
order by chunk_index asc;
`

const QUpsertDocumentChunk = `--sql 3d6f0e8b-91c4-4a57-b2e2-7c0a5d9f4e13
insert into document_chunks (document_id, chunk_index, title, content)
values ($1::text, $2, nullif($3, ''), $4)
on conflict (document_id, chunk_index)
do update set title = excluded.title, content = excluded.content;
`
